package biometric

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceauth/internal/imageprocessor"
)

const (
	// DefaultDistanceThreshold is the maximum (exclusive) embedding distance for a match.
	DefaultDistanceThreshold = 0.55
	// DefaultMinConfidence is the confidence floor a match must also reach.
	DefaultMinConfidence = 35.0
	// noMatchDistance is reported when nothing matched.
	noMatchDistance = 1.0
)

// ComparatorConfig holds the match policy applied identically to every gallery image.
type ComparatorConfig struct {
	DistanceThreshold float64
	MinConfidence     float64
}

// DefaultComparatorConfig returns the production match policy.
func DefaultComparatorConfig() ComparatorConfig {
	return ComparatorConfig{
		DistanceThreshold: DefaultDistanceThreshold,
		MinConfidence:     DefaultMinConfidence,
	}
}

// MatchEvidence is the outcome of comparing the probe against one gallery image.
type MatchEvidence struct {
	Path       string  `json:"path"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	IsMatch    bool    `json:"is_match"`
}

// Comparison aggregates the per-image evidence of one Compare call.
type Comparison struct {
	Match        bool            `json:"match"`
	MatchedCount int             `json:"matched_count"`
	TotalImages  int             `json:"total_images"`
	SkippedCount int             `json:"skipped_count"`
	BestDistance float64         `json:"distance"`
	Confidence   float64         `json:"confidence"`
	Evidence     []MatchEvidence `json:"evidence,omitempty"`
	Reason       string          `json:"reason"`
	// ProbeFailed is set when no embedding could be taken from the probe.
	ProbeFailed bool `json:"-"`
}

// ImageLoader reads and decodes a gallery image.
type ImageLoader func(path string) (*imageprocessor.Image, error)

// Comparator matches a probe face against a gallery of reference images.
type Comparator struct {
	embedder imageprocessor.FaceEmbedder
	load     ImageLoader
	cfg      ComparatorConfig
	logger   *zap.Logger
}

// NewComparator constructs a comparator using the given embedding model.
func NewComparator(embedder imageprocessor.FaceEmbedder, cfg ComparatorConfig, logger *zap.Logger) *Comparator {
	return &Comparator{
		embedder: embedder,
		load:     imageprocessor.Load,
		cfg:      cfg,
		logger:   logger.Named("comparator"),
	}
}

// Config returns the active match policy.
func (c *Comparator) Config() ComparatorConfig {
	return c.cfg
}

// Compare embeds the probe once and scans every gallery image independently.
// A failure on one gallery image is logged and skipped. An empty gallery is
// always a non-match.
func (c *Comparator) Compare(ctx context.Context, probe *imageprocessor.Image, galleryPaths []string) Comparison {
	result := Comparison{
		BestDistance: noMatchDistance,
		TotalImages:  len(galleryPaths),
	}
	if len(galleryPaths) == 0 {
		result.Reason = "no reference images to compare against"
		return result
	}
	if probe == nil {
		result.ProbeFailed = true
		result.Reason = "probe image could not be decoded"
		return result
	}

	probeEmbedding, err := c.embed(ctx, probe)
	if err != nil {
		c.logger.Warn("probe embedding failed", zap.Error(err))
		result.ProbeFailed = true
		result.Reason = fmt.Sprintf("could not extract face features from probe: %v", err)
		return result
	}

	for i, path := range galleryPaths {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("gallery scan interrupted", zap.Error(err), zap.Int("remaining", len(galleryPaths)-i))
			result.SkippedCount += len(galleryPaths) - i
			break
		}

		evidence, err := c.compareOne(ctx, probeEmbedding, path)
		if err != nil {
			c.logger.Warn("skipping gallery image", zap.String("path", path), zap.Error(err))
			result.SkippedCount++
			continue
		}
		result.Evidence = append(result.Evidence, evidence)
		if evidence.IsMatch {
			result.MatchedCount++
			result.BestDistance = min(result.BestDistance, evidence.Distance)
		}
	}

	result.Match = result.MatchedCount > 0
	if result.Match {
		result.Confidence = round2(ConfidenceFromDistance(result.BestDistance))
		result.Reason = fmt.Sprintf("matched %d of %d reference images", result.MatchedCount, result.TotalImages)
	} else {
		result.Reason = fmt.Sprintf("no reference image matched (%d compared, %d skipped)", len(result.Evidence), result.SkippedCount)
	}
	return result
}

// Decide applies the match policy to one distance.
func (c *Comparator) Decide(distance float64) (confidence float64, isMatch bool) {
	confidence = ConfidenceFromDistance(distance)
	return confidence, distance < c.cfg.DistanceThreshold && confidence >= c.cfg.MinConfidence
}

func (c *Comparator) compareOne(ctx context.Context, probe imageprocessor.Embedding, path string) (MatchEvidence, error) {
	reference, err := c.embedPath(ctx, path)
	if err != nil {
		return MatchEvidence{}, err
	}
	distance, err := EuclideanDistance(probe, reference)
	if err != nil {
		return MatchEvidence{}, err
	}
	confidence, isMatch := c.Decide(distance)
	return MatchEvidence{
		Path:       path,
		Distance:   distance,
		Confidence: round2(confidence),
		IsMatch:    isMatch,
	}, nil
}

func (c *Comparator) embedPath(ctx context.Context, path string) (imageprocessor.Embedding, error) {
	img, err := c.load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return c.embed(ctx, img)
}

var errNoFaceFeatures = errors.New("no face feature vector obtainable")

func (c *Comparator) embed(ctx context.Context, img *imageprocessor.Image) (imageprocessor.Embedding, error) {
	embedding, err := c.embedder.EmbedFace(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelFailure, err)
	}
	if len(embedding) == 0 {
		return nil, errNoFaceFeatures
	}
	return embedding, nil
}
