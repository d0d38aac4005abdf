//go:build !dlib

package dlib

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/faceauth/internal/imageprocessor"
)

// Recognizer is unusable in builds without the dlib tag.
type Recognizer struct{}

// Open always fails with ErrUnavailable.
func Open(modelsDir string, logger *zap.Logger) (*Recognizer, error) {
	return nil, ErrUnavailable
}

func (r *Recognizer) Close() error { return nil }

func (r *Recognizer) LocateFace(ctx context.Context, img *imageprocessor.Image) (*imageprocessor.FaceDetection, error) {
	return nil, ErrUnavailable
}

func (r *Recognizer) EmbedFace(ctx context.Context, img *imageprocessor.Image) (imageprocessor.Embedding, error) {
	return nil, ErrUnavailable
}
