//go:build dlib

package dlib

import (
	"context"
	"fmt"
	"sync"

	face "github.com/Kagami/go-face"
	"go.uber.org/zap"

	"github.com/example/faceauth/internal/imageprocessor"
)

// Recognizer wraps a go-face recognizer. dlib reports no detection score, so
// every face it finds carries confidence 1.
type Recognizer struct {
	mu     sync.Mutex
	rec    *face.Recognizer
	logger *zap.Logger
}

// Open loads the dlib models from modelsDir.
func Open(modelsDir string, logger *zap.Logger) (*Recognizer, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("load dlib models from %s: %w", modelsDir, err)
	}
	logger.Named("dlib").Info("dlib models loaded", zap.String("dir", modelsDir))
	return &Recognizer{rec: rec, logger: logger.Named("dlib")}, nil
}

// Close frees the native recognizer.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Close()
	return nil
}

func (r *Recognizer) first(img *imageprocessor.Image) (*face.Face, error) {
	data, err := jpegBytes(img)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	faces, err := r.rec.Recognize(data)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, nil
	}
	if len(faces) > 1 {
		r.logger.Debug("multiple faces found, using the first", zap.Int("faces", len(faces)))
	}
	return &faces[0], nil
}

// LocateFace implements imageprocessor.FaceLocator.
func (r *Recognizer) LocateFace(ctx context.Context, img *imageprocessor.Image) (*imageprocessor.FaceDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := r.first(img)
	if err != nil || f == nil {
		return nil, err
	}
	return &imageprocessor.FaceDetection{
		RelativeBox: relativeBox(f.Rectangle, img.Width, img.Height),
		Confidence:  1,
	}, nil
}

// EmbedFace implements imageprocessor.FaceEmbedder.
func (r *Recognizer) EmbedFace(ctx context.Context, img *imageprocessor.Image) (imageprocessor.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := r.first(img)
	if err != nil || f == nil {
		return nil, err
	}
	embedding := make(imageprocessor.Embedding, len(f.Descriptor))
	for i, v := range f.Descriptor {
		embedding[i] = float64(v)
	}
	return embedding, nil
}
