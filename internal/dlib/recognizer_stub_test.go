//go:build !dlib

package dlib

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestOpenWithoutDlibTag(t *testing.T) {
	if _, err := Open("models", zap.NewNop()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
