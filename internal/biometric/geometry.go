package biometric

import "github.com/example/faceauth/internal/imageprocessor"

// intersectionOverUnion of two boxes in the same coordinate system.
func intersectionOverUnion(a, b imageprocessor.BoundingBox) float64 {
	ac, bc := a.Corners(), b.Corners()

	x1 := max(ac[0], bc[0])
	y1 := max(ac[1], bc[1])
	x2 := min(ac[2], bc[2])
	y2 := min(ac[3], bc[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// relativeToPixels scales a relative (0-1) box to the image size.
func relativeToPixels(box imageprocessor.BoundingBox, width, height int) imageprocessor.BoundingBox {
	w, h := float64(width), float64(height)
	return imageprocessor.BoundingBox{
		X:      box.X * w,
		Y:      box.Y * h,
		Width:  box.Width * w,
		Height: box.Height * h,
	}
}
