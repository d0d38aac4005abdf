package biometric

import (
	"fmt"
	"math"

	"github.com/example/faceauth/internal/imageprocessor"
)

// EuclideanDistance returns the L2 distance between two embeddings of equal length.
func EuclideanDistance(a, b imageprocessor.Embedding) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("%w: embedding length mismatch (%d vs %d)", ErrModelFailure, len(a), len(b))
	}
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum), nil
}

// ConfidenceFromDistance converts a distance into a 0-100 confidence score.
func ConfidenceFromDistance(distance float64) float64 {
	return math.Max(0, (1-distance)*100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
