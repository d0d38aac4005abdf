package biometric

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceauth/internal/imageprocessor"
)

// DefaultLocatorMinConfidence is the weakest face detection accepted.
const DefaultLocatorMinConfidence = 0.5

// LocateResult reports whether a face was confirmed in an image.
type LocateResult struct {
	Detected    bool                       `json:"face_detected"`
	Box         imageprocessor.BoundingBox `json:"bbox"`
	RelativeBox imageprocessor.BoundingBox `json:"relative_bbox"`
	Confidence  float64                    `json:"confidence"`
}

// FaceLocatorAdapter wraps the face locator model. Only the first detection
// the model reports is used.
type FaceLocatorAdapter struct {
	locator       imageprocessor.FaceLocator
	minConfidence float64
	logger        *zap.Logger
}

func NewFaceLocatorAdapter(locator imageprocessor.FaceLocator, minConfidence float64, logger *zap.Logger) *FaceLocatorAdapter {
	return &FaceLocatorAdapter{
		locator:       locator,
		minConfidence: minConfidence,
		logger:        logger.Named("locator"),
	}
}

// Locate confirms a face in an already decoded image. Zero detections are not
// an error: the result has Detected=false.
func (a *FaceLocatorAdapter) Locate(ctx context.Context, img *imageprocessor.Image) (LocateResult, error) {
	if img == nil {
		return LocateResult{}, ErrInvalidImage
	}
	detection, err := a.locator.LocateFace(ctx, img)
	if err != nil {
		a.logger.Error("face locator failed", zap.Error(err))
		return LocateResult{}, fmt.Errorf("%w: face locator: %v", ErrModelFailure, err)
	}
	if detection == nil {
		return LocateResult{}, nil
	}
	if detection.Confidence < a.minConfidence {
		a.logger.Info("face detection below confidence floor",
			zap.Float64("confidence", detection.Confidence),
			zap.Float64("min_confidence", a.minConfidence))
		return LocateResult{Confidence: detection.Confidence}, nil
	}
	return LocateResult{
		Detected:    true,
		Box:         relativeToPixels(detection.RelativeBox, img.Width, img.Height),
		RelativeBox: detection.RelativeBox,
		Confidence:  detection.Confidence,
	}, nil
}

// LocateBytes decodes the payload then locates a face in it.
func (a *FaceLocatorAdapter) LocateBytes(ctx context.Context, data []byte) (LocateResult, *imageprocessor.Image, error) {
	img, err := imageprocessor.Decode(data)
	if err != nil {
		return LocateResult{}, nil, err
	}
	result, err := a.Locate(ctx, img)
	return result, img, err
}
