package biometric

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceauth/internal/logging"
)

// FlagFacialRecognitionEnabled is the profile flag gating facial login.
const FlagFacialRecognitionEnabled = "facial_recognition_enabled"

// ProfileStore is the external user-profile store.
type ProfileStore interface {
	Exists(ctx context.Context, subjectID string) (bool, error)
	Flag(ctx context.Context, subjectID, flag string) (bool, error)
}

// Mode distinguishes the two verification entry points.
type Mode string

const (
	ModeProfile Mode = "profile"
	ModeLogin   Mode = "login"
)

// Verdict is the single outcome of a verification call.
type Verdict struct {
	Verified     bool             `json:"verified"`
	Confidence   float64          `json:"confidence"`
	Distance     float64          `json:"distance"`
	MatchedCount int              `json:"matched_count"`
	TotalImages  int              `json:"total_images"`
	Reason       string           `json:"reason"`
	Code         RejectCode       `json:"code,omitempty"`
	Mode         Mode             `json:"mode"`
	SubjectID    string           `json:"subject_id"`
	Face         *LocateResult    `json:"face,omitempty"`
	Liveness     *LivenessVerdict `json:"liveness,omitempty"`
	Evidence     []MatchEvidence  `json:"evidence,omitempty"`
}

// Err returns the sentinel error matching the rejection, or nil when verified.
func (v Verdict) Err() error {
	if v.Verified {
		return nil
	}
	return v.Code.Err()
}

// Orchestrator sequences locator, liveness and comparator against one
// subject's gallery.
type Orchestrator struct {
	gallery    GalleryReader
	locator    *FaceLocatorAdapter
	liveness   *LivenessClassifier
	comparator *Comparator
	profiles   ProfileStore
	logger     *zap.Logger
}

// OrchestratorDeps are the explicitly constructed collaborators.
type OrchestratorDeps struct {
	Gallery    GalleryReader
	Locator    *FaceLocatorAdapter
	Liveness   *LivenessClassifier
	Comparator *Comparator
	Profiles   ProfileStore
}

func NewOrchestrator(deps OrchestratorDeps, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		gallery:    deps.Gallery,
		locator:    deps.Locator,
		liveness:   deps.Liveness,
		comparator: deps.Comparator,
		profiles:   deps.Profiles,
		logger:     logger.Named("orchestrator"),
	}
}

// VerifyAgainstProfile checks that the image shows the subject's enrolled face.
func (o *Orchestrator) VerifyAgainstProfile(ctx context.Context, subjectID string, image []byte) Verdict {
	return o.verify(ctx, ModeProfile, subjectID, image)
}

// VerifyForLogin is the strict variant gating login. The subject must exist
// and have facial recognition enabled before the pipeline runs.
func (o *Orchestrator) VerifyForLogin(ctx context.Context, subjectID string, image []byte) Verdict {
	log := logging.WithSubject(o.logger, subjectID).With(zap.String("mode", string(ModeLogin)))
	if err := ValidateSubjectID(subjectID); err != nil {
		return reject(ModeLogin, subjectID, CodeInvalidSubject, "invalid user identifier")
	}
	if o.profiles == nil {
		log.Error("no profile store configured")
		return reject(ModeLogin, subjectID, CodeProfileUnavailable, "user profile could not be checked")
	}

	exists, err := o.profiles.Exists(ctx, subjectID)
	if err != nil {
		log.Error("profile lookup failed", zap.Error(err))
		return reject(ModeLogin, subjectID, CodeProfileUnavailable, "user profile could not be checked")
	}
	if !exists {
		return reject(ModeLogin, subjectID, CodeSubjectNotFound, "user not found")
	}

	enabled, err := o.profiles.Flag(ctx, subjectID, FlagFacialRecognitionEnabled)
	if err != nil {
		log.Error("profile flag lookup failed", zap.Error(err))
		return reject(ModeLogin, subjectID, CodeProfileUnavailable, "user profile could not be checked")
	}
	if !enabled {
		log.Info("facial login attempted while not enabled")
		return reject(ModeLogin, subjectID, CodeNotEnabled, "facial recognition is not enabled for this user")
	}

	return o.verify(ctx, ModeLogin, subjectID, image)
}

func (o *Orchestrator) verify(ctx context.Context, mode Mode, subjectID string, image []byte) Verdict {
	log := logging.WithSubject(o.logger, subjectID).With(zap.String("mode", string(mode)))
	if err := ValidateSubjectID(subjectID); err != nil {
		return reject(mode, subjectID, CodeInvalidSubject, "invalid user identifier")
	}

	gallery, err := o.gallery.ListImages(subjectID)
	if err != nil {
		log.Error("listing gallery failed", zap.Error(err))
		return reject(mode, subjectID, CodeGalleryUnavailable, "registered faces could not be read")
	}
	if len(gallery) == 0 {
		return reject(mode, subjectID, CodeNoGallery, "no face registered; register your face in your profile first")
	}

	face, probe, err := o.locator.LocateBytes(ctx, image)
	if err != nil {
		code := CodeOf(err)
		log.Info("face location failed", zap.Error(err), zap.String("code", string(code)))
		if errors.Is(err, ErrInvalidImage) {
			return reject(mode, subjectID, code, "invalid image")
		}
		return reject(mode, subjectID, code, "face detection failed")
	}
	if !face.Detected {
		v := reject(mode, subjectID, CodeNoFaceDetected, "no face detected in the image; make sure you are looking at the camera")
		v.Face = &face
		return v
	}

	liveness := o.liveness.Classify(ctx, probe)
	if !liveness.IsAlive {
		log.Warn("liveness rejected",
			zap.String("security_level", string(liveness.SecurityLevel)),
			zap.String("reason", liveness.Reason))
		v := reject(mode, subjectID, CodeLivenessFailed, fmt.Sprintf("liveness check failed: %s", liveness.Reason))
		v.Face = &face
		v.Liveness = &liveness
		return v
	}

	comparison := o.comparator.Compare(ctx, probe, gallery)
	verdict := Verdict{
		Confidence:   comparison.Confidence,
		Distance:     comparison.BestDistance,
		MatchedCount: comparison.MatchedCount,
		TotalImages:  comparison.TotalImages,
		Mode:         mode,
		SubjectID:    subjectID,
		Face:         &face,
		Liveness:     &liveness,
		Evidence:     comparison.Evidence,
	}

	if !comparison.Match || !o.matchHolds(comparison) {
		verdict.Code = CodeNoMatch
		verdict.Reason = "face does not match the registered face"
		if mode == ModeLogin {
			verdict.Reason = "face does not match this user; access denied"
		}
		if comparison.ProbeFailed {
			verdict.Reason += " (" + comparison.Reason + ")"
		}
		log.Info("verification rejected", zap.String("reason", comparison.Reason))
		return verdict
	}

	verdict.Verified = true
	verdict.Reason = "face verified"
	if mode == ModeLogin {
		verdict.Reason = "identity verified"
	}
	log.Info("verification succeeded",
		zap.Float64("confidence", verdict.Confidence),
		zap.Int("matched_count", verdict.MatchedCount),
		zap.Int("total_images", verdict.TotalImages))
	return verdict
}

// matchHolds re-checks the verdict invariant: at least one independent match,
// best distance under the threshold and confidence at or above the floor.
func (o *Orchestrator) matchHolds(c Comparison) bool {
	cfg := o.comparator.Config()
	return c.MatchedCount >= 1 &&
		c.BestDistance < cfg.DistanceThreshold &&
		c.Confidence >= cfg.MinConfidence
}

func reject(mode Mode, subjectID string, code RejectCode, reason string) Verdict {
	return Verdict{
		Verified:  false,
		Distance:  noMatchDistance,
		Reason:    reason,
		Code:      code,
		Mode:      mode,
		SubjectID: subjectID,
	}
}
