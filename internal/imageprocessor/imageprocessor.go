// Package imageprocessor defines the contracts of the external face and
// object models the verification pipeline consumes, and the image decoding
// step that precedes every model call.
package imageprocessor

import "context"

// BoundingBox is an axis-aligned box. Whether the coordinates are relative
// (0-1) or pixels depends on where it is used; see the field docs.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns Width*Height, or zero for degenerate boxes.
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Corners returns the box as [x1, y1, x2, y2].
func (b BoundingBox) Corners() []float64 {
	return []float64{b.X, b.Y, b.X + b.Width, b.Y + b.Height}
}

// FaceDetection is the single detection reported by a face locator model.
type FaceDetection struct {
	// RelativeBox is expressed as fractions of the image size.
	RelativeBox BoundingBox
	Confidence  float64
}

// Embedding is a fixed-length identity vector produced by a face embedding model.
type Embedding []float64

// ObjectDetection is one entry of an object detector's output.
type ObjectDetection struct {
	ClassID    int
	Confidence float64
	// Box is in pixels of the analysed image.
	Box BoundingBox
}

// FaceLocator finds a face. It returns (nil, nil) when the image contains no
// face; an error means the model call itself failed.
type FaceLocator interface {
	LocateFace(ctx context.Context, img *Image) (*FaceDetection, error)
}

// FaceEmbedder extracts an identity embedding. It returns (nil, nil) when no
// face feature vector can be obtained.
type FaceEmbedder interface {
	EmbedFace(ctx context.Context, img *Image) (Embedding, error)
}

// ObjectDetector runs a general object detector over an image.
type ObjectDetector interface {
	DetectObjects(ctx context.Context, img *Image) ([]ObjectDetection, error)
}
