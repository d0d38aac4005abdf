package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage is returned when a payload cannot be decoded as an image.
var ErrInvalidImage = errors.New("invalid image")

// Image is a decoded image together with the bytes it was decoded from.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
	Pixels image.Image
}

// Extension returns the canonical file extension for the image format.
func (img *Image) Extension() string {
	switch img.Format {
	case "jpeg":
		return ".jpg"
	case "":
		return ".img"
	default:
		return "." + img.Format
	}
}

// Decode validates and decodes an encoded image payload.
func Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	pixels, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	bounds := pixels.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	return &Image{
		Data:   data,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pixels: pixels,
	}, nil
}

// Load reads and decodes an image file.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
