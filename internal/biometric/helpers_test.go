package biometric

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/example/faceauth/internal/imageprocessor"
)

// Test images are solid colors; the fake models key their outputs on the
// color of the top-left pixel.
var (
	aliceColor   = color.RGBA{R: 200, G: 10, B: 10, A: 255}
	aliceAltShot = color.RGBA{R: 190, G: 20, B: 10, A: 255}
	bobColor     = color.RGBA{R: 10, G: 200, B: 10, A: 255}
	strangerCol  = color.RGBA{R: 10, G: 10, B: 200, A: 255}
	blankColor   = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func decodedImage(t *testing.T, c color.RGBA) *imageprocessor.Image {
	t.Helper()
	img, err := imageprocessor.Decode(solidPNG(t, c))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

func keyOf(img *imageprocessor.Image) color.RGBA {
	return color.RGBAModel.Convert(img.Pixels.At(0, 0)).(color.RGBA)
}

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[color.RGBA]imageprocessor.Embedding
	errs    map[color.RGBA]error
	calls   int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: map[color.RGBA]imageprocessor.Embedding{
			aliceColor:   {0, 0, 0, 0},
			aliceAltShot: {0.3, 0, 0, 0},
			bobColor:     {1, 1, 0, 0},
			strangerCol:  {0, 0, 2, 0},
		},
		errs: map[color.RGBA]error{},
	}
}

func (f *fakeEmbedder) EmbedFace(ctx context.Context, img *imageprocessor.Image) (imageprocessor.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := keyOf(img)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.vectors[key], nil
}

type fakeLocator struct {
	noFace map[color.RGBA]bool
	err    error
}

func (f *fakeLocator) LocateFace(ctx context.Context, img *imageprocessor.Image) (*imageprocessor.FaceDetection, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.noFace[keyOf(img)] {
		return nil, nil
	}
	return &imageprocessor.FaceDetection{
		RelativeBox: imageprocessor.BoundingBox{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
		Confidence:  0.97,
	}, nil
}

type fakeDetector struct {
	objects map[color.RGBA][]imageprocessor.ObjectDetection
	err     error
	panics  bool
	calls   int
}

func (f *fakeDetector) DetectObjects(ctx context.Context, img *imageprocessor.Image) ([]imageprocessor.ObjectDetection, error) {
	f.calls++
	if f.panics {
		panic("tensor shape mismatch")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.objects[keyOf(img)], nil
}

var errModelDown = errors.New("model server unavailable")

func testTaxonomy(t *testing.T) *Taxonomy {
	t.Helper()
	taxonomy, err := NewTaxonomy(
		ClassInfo{ID: 62, Name: "tv", Category: CategoryDevice},
		ClassInfo{ID: 63, Name: "laptop", Category: CategoryDevice},
		ClassInfo{ID: 67, Name: "cell phone", Category: CategoryDevice},
		ClassInfo{ID: 73, Name: "book", Category: CategoryDevice},
		ClassInfo{ID: 24, Name: "backpack", Category: CategoryOcclusionAccessory},
		ClassInfo{ID: 83, Name: "hat", Category: CategoryOcclusionAccessory},
		ClassInfo{ID: 84, Name: "face mask", Category: CategoryOcclusionAccessory},
		ClassInfo{ID: 80, Name: "glasses", Category: CategoryAllowedAccessory},
		ClassInfo{ID: 81, Name: "sunglasses", Category: CategoryAllowedAccessory},
		ClassInfo{ID: 39, Name: "bottle", Category: CategorySuspiciousObject},
		ClassInfo{ID: 41, Name: "cup", Category: CategorySuspiciousObject},
	)
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	return taxonomy
}

func box(x, y, w, h float64) imageprocessor.BoundingBox {
	return imageprocessor.BoundingBox{X: x, Y: y, Width: w, Height: h}
}
