package biometric

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceauth/internal/imageprocessor"
)

// DefaultUniquenessThreshold is the distance below which two subjects are
// considered to share a face.
const DefaultUniquenessThreshold = 0.6

// UniquenessConfig tunes the duplicate-identity scan.
type UniquenessConfig struct {
	DistanceThreshold float64
	// FullGallery compares against every image of each subject instead of
	// only the newest one.
	FullGallery bool
}

// UniquenessVerdict reports whether a face already belongs to another subject.
type UniquenessVerdict struct {
	IsUnique         bool    `json:"is_unique"`
	MatchedSubjectID string  `json:"matched_subject_id,omitempty"`
	Confidence       float64 `json:"confidence"`
	Distance         float64 `json:"distance,omitempty"`
	Reason           string  `json:"reason"`
	SubjectsScanned  int     `json:"subjects_scanned"`
}

// UniquenessRegistry scans every subject's gallery for a face.
type UniquenessRegistry struct {
	gallery  GalleryReader
	embedder imageprocessor.FaceEmbedder
	load     ImageLoader
	cfg      UniquenessConfig
	logger   *zap.Logger
}

func NewUniquenessRegistry(gallery GalleryReader, embedder imageprocessor.FaceEmbedder, cfg UniquenessConfig, logger *zap.Logger) *UniquenessRegistry {
	return &UniquenessRegistry{
		gallery:  gallery,
		embedder: embedder,
		load:     imageprocessor.Load,
		cfg:      cfg,
		logger:   logger.Named("uniqueness"),
	}
}

// CheckUnique compares the probe with every subject except excludeSubjectID.
// The first subject within the threshold ends the scan. A probe without an
// obtainable face is reported as not unique.
func (r *UniquenessRegistry) CheckUnique(ctx context.Context, probe *imageprocessor.Image, excludeSubjectID string) UniquenessVerdict {
	if probe == nil {
		return UniquenessVerdict{Reason: "probe image could not be decoded"}
	}

	probeEmbedding, err := r.embedder.EmbedFace(ctx, probe)
	if err != nil {
		r.logger.Error("probe embedding failed", zap.Error(err))
		return UniquenessVerdict{Reason: fmt.Sprintf("error processing image: %v", err)}
	}
	if len(probeEmbedding) == 0 {
		return UniquenessVerdict{Reason: "no valid face detected in the image"}
	}

	subjects, err := r.gallery.Subjects()
	if err != nil {
		r.logger.Error("listing gallery subjects failed", zap.Error(err))
		return UniquenessVerdict{Reason: fmt.Sprintf("could not scan registered faces: %v", err)}
	}

	scanned := 0
	for _, subjectID := range subjects {
		if subjectID == excludeSubjectID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return UniquenessVerdict{Reason: fmt.Sprintf("scan interrupted: %v", err), SubjectsScanned: scanned}
		}

		images, err := r.gallery.ListImages(subjectID)
		if err != nil {
			r.logger.Warn("skipping subject", zap.String("subject_id", subjectID), zap.Error(err))
			continue
		}
		if len(images) == 0 {
			continue
		}
		scanned++

		references := images[:1]
		if r.cfg.FullGallery {
			references = images
		}
		for _, path := range references {
			distance, err := r.distanceTo(ctx, probeEmbedding, path)
			if err != nil {
				r.logger.Warn("skipping reference image", zap.String("subject_id", subjectID), zap.String("path", path), zap.Error(err))
				continue
			}
			if distance < r.cfg.DistanceThreshold {
				r.logger.Info("face already registered",
					zap.String("matched_subject_id", subjectID),
					zap.Float64("distance", distance))
				return UniquenessVerdict{
					IsUnique:         false,
					MatchedSubjectID: subjectID,
					Confidence:       round2(ConfidenceFromDistance(distance)),
					Distance:         distance,
					Reason:           "face is already registered by another user",
					SubjectsScanned:  scanned,
				}
			}
		}
	}

	return UniquenessVerdict{
		IsUnique:        true,
		Reason:          "face is unique in the system",
		SubjectsScanned: scanned,
	}
}

func (r *UniquenessRegistry) distanceTo(ctx context.Context, probe imageprocessor.Embedding, path string) (float64, error) {
	img, err := r.load(path)
	if err != nil {
		return 0, err
	}
	reference, err := r.embedder.EmbedFace(ctx, img)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrModelFailure, err)
	}
	if len(reference) == 0 {
		return 0, errNoFaceFeatures
	}
	return EuclideanDistance(probe, reference)
}
