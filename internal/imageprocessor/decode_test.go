package imageprocessor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodePNG(t *testing.T) {
	img, err := Decode(encodePNG(t, 4, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Format != "png" || img.Width != 4 || img.Height != 3 {
		t.Fatalf("unexpected image metadata: %+v", img)
	}
	if img.Extension() != ".png" {
		t.Fatalf("unexpected extension %q", img.Extension())
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "text", data: []byte("definitely not an image")},
		{name: "truncated png", data: encodePNG(t, 4, 4)[:20]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, ErrInvalidImage) {
				t.Fatalf("expected ErrInvalidImage, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.png")
	if err := os.WriteFile(path, encodePNG(t, 2, 2), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	img, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Width != 2 {
		t.Fatalf("unexpected width %d", img.Width)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestBoundingBoxArea(t *testing.T) {
	if got := (BoundingBox{Width: 2, Height: 3}).Area(); got != 6 {
		t.Fatalf("expected 6, got %v", got)
	}
	if got := (BoundingBox{Width: -2, Height: 3}).Area(); got != 0 {
		t.Fatalf("expected 0 for degenerate box, got %v", got)
	}
}
