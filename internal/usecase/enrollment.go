package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceauth/internal/biometric"
	"github.com/example/faceauth/internal/imageprocessor"
	"github.com/example/faceauth/internal/logging"
)

// ProfileStore is the profile store including the write side used to opt in.
type ProfileStore interface {
	biometric.ProfileStore
	SetFlag(ctx context.Context, subjectID, flag string, value bool) error
}

// Gallery is the enrollment gallery as used by the enrollment flow.
type Gallery interface {
	biometric.GalleryReader
	AddImage(subjectID string, data []byte) (string, error)
	ListRecords(subjectID string) ([]biometric.EnrollmentImage, error)
}

// EnrollmentResult describes one accepted enrollment image.
type EnrollmentResult struct {
	SubjectID   string                      `json:"subject_id"`
	Path        string                      `json:"path"`
	CapturedAt  time.Time                   `json:"captured_at"`
	TotalImages int                         `json:"total_images"`
	Face        biometric.LocateResult      `json:"face"`
	Liveness    biometric.LivenessVerdict   `json:"liveness"`
	Uniqueness  biometric.UniquenessVerdict `json:"uniqueness"`
}

// EnrollmentUseCase screens and stores enrollment images and manages the
// facial recognition opt-in.
type EnrollmentUseCase struct {
	gallery  Gallery
	locator  *biometric.FaceLocatorAdapter
	liveness *biometric.LivenessClassifier
	registry *biometric.UniquenessRegistry
	profiles ProfileStore
	logger   *zap.Logger
}

// EnrollmentDeps are the collaborators of the enrollment flow. Profiles may be
// nil for offline tooling; the existence check is then skipped.
type EnrollmentDeps struct {
	Gallery  Gallery
	Locator  *biometric.FaceLocatorAdapter
	Liveness *biometric.LivenessClassifier
	Registry *biometric.UniquenessRegistry
	Profiles ProfileStore
}

func NewEnrollmentUseCase(deps EnrollmentDeps, logger *zap.Logger) *EnrollmentUseCase {
	return &EnrollmentUseCase{
		gallery:  deps.Gallery,
		locator:  deps.Locator,
		liveness: deps.Liveness,
		registry: deps.Registry,
		profiles: deps.Profiles,
		logger:   logger.Named("enrollment_usecase"),
	}
}

// Enroll adds an image to the subject's gallery after checking that it shows
// one live face that no other subject has enrolled. The partial result is
// returned alongside a rejection so callers can report why.
func (uc *EnrollmentUseCase) Enroll(ctx context.Context, subjectID string, image []byte) (*EnrollmentResult, error) {
	opLogger := logging.WithSubject(logging.WithOperation(uc.logger, "usecase.enroll", ""), subjectID)
	if err := biometric.ValidateSubjectID(subjectID); err != nil {
		return nil, err
	}
	if err := uc.requireProfile(ctx, subjectID); err != nil {
		return nil, err
	}

	result := &EnrollmentResult{SubjectID: subjectID}
	face, probe, err := uc.locator.LocateBytes(ctx, image)
	if err != nil {
		opLogger.Info("enrollment image rejected", zap.Error(err))
		return nil, err
	}
	result.Face = face
	if !face.Detected {
		return result, fmt.Errorf("%w in enrollment image", biometric.ErrNoFaceDetected)
	}

	result.Liveness = uc.liveness.Classify(ctx, probe)
	if !result.Liveness.IsAlive {
		opLogger.Warn("enrollment liveness rejected", zap.String("reason", result.Liveness.Reason))
		return result, fmt.Errorf("%w: %s", biometric.ErrLivenessFailed, result.Liveness.Reason)
	}

	result.Uniqueness = uc.registry.CheckUnique(ctx, probe, subjectID)
	if !result.Uniqueness.IsUnique {
		if result.Uniqueness.MatchedSubjectID != "" {
			opLogger.Warn("face already enrolled by another subject",
				zap.String("matched_subject_id", result.Uniqueness.MatchedSubjectID))
			return result, fmt.Errorf("%w: %s", biometric.ErrDuplicateFace, result.Uniqueness.MatchedSubjectID)
		}
		return result, fmt.Errorf("%w: %s", biometric.ErrModelFailure, result.Uniqueness.Reason)
	}

	path, err := uc.gallery.AddImage(subjectID, image)
	if err != nil {
		opLogger.Error("storing enrollment image failed", zap.Error(err))
		return result, logging.NewOperationError("usecase.enroll", "", err)
	}
	result.Path = path
	result.CapturedAt, _ = biometric.CapturedAt(path)

	images, err := uc.gallery.ListImages(subjectID)
	if err == nil {
		result.TotalImages = len(images)
	}
	opLogger.Info("enrollment image accepted", zap.String("path", path), zap.Int("total_images", result.TotalImages))
	return result, nil
}

// ListImages returns the subject's enrollment images, newest first.
func (uc *EnrollmentUseCase) ListImages(ctx context.Context, subjectID string) ([]biometric.EnrollmentImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return uc.gallery.ListRecords(subjectID)
}

// CheckUnique reports whether the face in image is enrolled by any subject
// other than excludeSubjectID.
func (uc *EnrollmentUseCase) CheckUnique(ctx context.Context, excludeSubjectID string, image []byte) (biometric.UniquenessVerdict, error) {
	probe, err := imageprocessor.Decode(image)
	if err != nil {
		return biometric.UniquenessVerdict{}, err
	}
	return uc.registry.CheckUnique(ctx, probe, excludeSubjectID), nil
}

// SetFacialRecognition turns facial login on or off. Turning it on requires
// at least one enrollment image.
func (uc *EnrollmentUseCase) SetFacialRecognition(ctx context.Context, subjectID string, enabled bool) error {
	if err := biometric.ValidateSubjectID(subjectID); err != nil {
		return err
	}
	if uc.profiles == nil {
		return biometric.ErrProfileUnavailable
	}
	if err := uc.requireProfile(ctx, subjectID); err != nil {
		return err
	}
	if enabled {
		images, err := uc.gallery.ListImages(subjectID)
		if err != nil {
			return err
		}
		if len(images) == 0 {
			return fmt.Errorf("%w: enroll a face before enabling facial recognition", biometric.ErrNoGallery)
		}
	}
	if err := uc.profiles.SetFlag(ctx, subjectID, biometric.FlagFacialRecognitionEnabled, enabled); err != nil {
		return fmt.Errorf("%w: %v", biometric.ErrProfileUnavailable, err)
	}
	uc.logger.Info("facial recognition preference updated",
		zap.String("subject_id", subjectID), zap.Bool("enabled", enabled))
	return nil
}

func (uc *EnrollmentUseCase) requireProfile(ctx context.Context, subjectID string) error {
	if uc.profiles == nil {
		return nil
	}
	exists, err := uc.profiles.Exists(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("%w: %v", biometric.ErrProfileUnavailable, err)
	}
	if !exists {
		return biometric.ErrSubjectNotFound
	}
	return nil
}
