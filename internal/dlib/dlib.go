// Package dlib runs face location and embedding in-process with the dlib
// ResNet models. The recognizer is only compiled with the "dlib" build tag
// because it needs cgo and the dlib libraries.
package dlib

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/example/faceauth/internal/imageprocessor"
)

// ErrUnavailable is returned by Open in builds without the dlib tag.
var ErrUnavailable = errors.New("dlib backend not compiled in (build with -tags dlib)")

const jpegQuality = 95

// jpegBytes returns the image as JPEG, which is the only format the dlib
// loader accepts.
func jpegBytes(img *imageprocessor.Image) ([]byte, error) {
	if img == nil {
		return nil, imageprocessor.ErrInvalidImage
	}
	if img.Format == "jpeg" {
		return img.Data, nil
	}
	if img.Pixels == nil {
		return nil, fmt.Errorf("%w: no pixels to re-encode", imageprocessor.ErrInvalidImage)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img.Pixels, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("re-encode %s as jpeg: %w", img.Format, err)
	}
	return buf.Bytes(), nil
}

// relativeBox converts a pixel rectangle to fractions of the image size.
func relativeBox(r image.Rectangle, width, height int) imageprocessor.BoundingBox {
	if width <= 0 || height <= 0 {
		return imageprocessor.BoundingBox{}
	}
	w, h := float64(width), float64(height)
	return imageprocessor.BoundingBox{
		X:      float64(r.Min.X) / w,
		Y:      float64(r.Min.Y) / h,
		Width:  float64(r.Dx()) / w,
		Height: float64(r.Dy()) / h,
	}
}
