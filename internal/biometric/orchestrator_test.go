package biometric

import (
	"context"
	"errors"
	"image/color"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/faceauth/internal/imageprocessor"
)

type stubProfiles struct {
	exists    map[string]bool
	flags     map[string]bool
	err       error
	flagCalls int
}

func (s *stubProfiles) Exists(ctx context.Context, subjectID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.exists[subjectID], nil
}

func (s *stubProfiles) Flag(ctx context.Context, subjectID, flag string) (bool, error) {
	s.flagCalls++
	if flag != FlagFacialRecognitionEnabled {
		return false, errors.New("unexpected flag " + flag)
	}
	return s.flags[subjectID], nil
}

type pipeline struct {
	gallery  *GalleryStore
	embedder *fakeEmbedder
	locator  *fakeLocator
	detector *fakeDetector
	profiles *stubProfiles
	orch     *Orchestrator
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{
		gallery:  newTestGallery(t),
		embedder: newFakeEmbedder(),
		locator:  &fakeLocator{noFace: map[color.RGBA]bool{blankColor: true}},
		detector: &fakeDetector{objects: map[color.RGBA][]imageprocessor.ObjectDetection{}},
		profiles: &stubProfiles{exists: map[string]bool{}, flags: map[string]bool{}},
	}
	logger := zap.NewNop()
	p.orch = NewOrchestrator(OrchestratorDeps{
		Gallery:    p.gallery,
		Locator:    NewFaceLocatorAdapter(p.locator, DefaultLocatorMinConfidence, logger),
		Liveness:   NewLivenessClassifier(p.detector, testTaxonomy(t), LivenessConfig{DuplicateIoU: 0.5}, logger),
		Comparator: NewComparator(p.embedder, DefaultComparatorConfig(), logger),
		Profiles:   p.profiles,
	}, logger)
	return p
}

func (p *pipeline) enroll(t *testing.T, subjectID string, c color.RGBA) {
	t.Helper()
	if _, err := p.gallery.AddImage(subjectID, solidPNG(t, c)); err != nil {
		t.Fatalf("enroll %s: %v", subjectID, err)
	}
}

func TestVerifyEmptyGalleryRejectsBeforeModels(t *testing.T) {
	p := newPipeline(t)

	verdict := p.orch.VerifyAgainstProfile(context.Background(), "u1", solidPNG(t, aliceColor))

	if verdict.Verified || verdict.Code != CodeNoGallery {
		t.Fatalf("expected no_gallery rejection, got %+v", verdict)
	}
	if !strings.Contains(verdict.Reason, "register your face") {
		t.Fatalf("unexpected reason %q", verdict.Reason)
	}
	if verdict.Distance != 1.0 {
		t.Fatalf("expected distance 1.0, got %v", verdict.Distance)
	}
	if p.embedder.calls != 0 || p.detector.calls != 0 {
		t.Fatal("expected no model calls for an empty gallery")
	}
	if !errors.Is(verdict.Err(), ErrNoGallery) {
		t.Fatalf("expected ErrNoGallery, got %v", verdict.Err())
	}
}

func TestVerifyAgainstProfile(t *testing.T) {
	p := newPipeline(t)
	p.enroll(t, "u1", aliceColor)
	p.detector.objects[bobColor] = []imageprocessor.ObjectDetection{{ClassID: 67, Confidence: 0.9, Box: box(0, 0, 4, 4)}}
	p.detector.objects[aliceAltShot] = []imageprocessor.ObjectDetection{{ClassID: 80, Confidence: 0.9, Box: box(3, 3, 4, 1)}}

	tests := []struct {
		name         string
		image        []byte
		wantVerified bool
		wantCode     RejectCode
	}{
		{name: "same person with glasses", image: solidPNG(t, aliceAltShot), wantVerified: true},
		{name: "same person", image: solidPNG(t, aliceColor), wantVerified: true},
		{name: "different person", image: solidPNG(t, strangerCol), wantCode: CodeNoMatch},
		{name: "phone replay", image: solidPNG(t, bobColor), wantCode: CodeLivenessFailed},
		{name: "no face", image: solidPNG(t, blankColor), wantCode: CodeNoFaceDetected},
		{name: "garbage", image: []byte("not an image"), wantCode: CodeInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := p.orch.VerifyAgainstProfile(context.Background(), "u1", tt.image)
			if verdict.Verified != tt.wantVerified || verdict.Code != tt.wantCode {
				t.Fatalf("got verified=%v code=%q (%s), want verified=%v code=%q",
					verdict.Verified, verdict.Code, verdict.Reason, tt.wantVerified, tt.wantCode)
			}
			if verdict.Mode != ModeProfile || verdict.SubjectID != "u1" {
				t.Fatalf("unexpected mode/subject %s/%s", verdict.Mode, verdict.SubjectID)
			}
			if verdict.Verified && (verdict.MatchedCount < 1 || verdict.Distance >= DefaultDistanceThreshold || verdict.Confidence < DefaultMinConfidence) {
				t.Fatalf("verified verdict breaks the match invariant: %+v", verdict)
			}
		})
	}
}

func TestVerifyLivenessDetailAttached(t *testing.T) {
	p := newPipeline(t)
	p.enroll(t, "u1", aliceColor)
	p.detector.objects[aliceColor] = []imageprocessor.ObjectDetection{{ClassID: 62, Confidence: 0.8, Box: box(0, 0, 10, 10)}}

	verdict := p.orch.VerifyAgainstProfile(context.Background(), "u1", solidPNG(t, aliceColor))

	if verdict.Liveness == nil || verdict.Liveness.SecurityLevel != SecurityCritical {
		t.Fatalf("expected critical liveness detail, got %+v", verdict.Liveness)
	}
	if !strings.HasPrefix(verdict.Reason, "liveness check failed: ") {
		t.Fatalf("unexpected reason %q", verdict.Reason)
	}
	if p.embedder.calls != 0 {
		t.Fatal("comparator should not run after a liveness rejection")
	}
}

func TestVerifyModelFailure(t *testing.T) {
	p := newPipeline(t)
	p.enroll(t, "u1", aliceColor)
	p.locator.err = errModelDown

	verdict := p.orch.VerifyAgainstProfile(context.Background(), "u1", solidPNG(t, aliceColor))

	if verdict.Verified || verdict.Code != CodeModelFailure {
		t.Fatalf("expected model_failure, got %+v", verdict)
	}
}

func TestVerifyForLoginGates(t *testing.T) {
	p := newPipeline(t)
	p.enroll(t, "u1", aliceColor)
	p.enroll(t, "u2", bobColor)
	p.profiles.exists["u1"] = true
	p.profiles.exists["u2"] = true
	p.profiles.flags["u1"] = true

	t.Run("unknown subject", func(t *testing.T) {
		verdict := p.orch.VerifyForLogin(context.Background(), "ghost", solidPNG(t, aliceColor))
		if verdict.Code != CodeSubjectNotFound || verdict.Reason != "user not found" {
			t.Fatalf("unexpected verdict %+v", verdict)
		}
	})

	t.Run("not enabled is distinct from no match", func(t *testing.T) {
		verdict := p.orch.VerifyForLogin(context.Background(), "u2", solidPNG(t, bobColor))
		if verdict.Verified || verdict.Code != CodeNotEnabled {
			t.Fatalf("expected not_enabled, got %+v", verdict)
		}
		if p.detector.calls != 0 {
			t.Fatal("pipeline should not run for a disabled subject")
		}
	})

	t.Run("enabled and matching", func(t *testing.T) {
		verdict := p.orch.VerifyForLogin(context.Background(), "u1", solidPNG(t, aliceAltShot))
		if !verdict.Verified || verdict.Mode != ModeLogin || verdict.Reason != "identity verified" {
			t.Fatalf("expected login success, got %+v", verdict)
		}
	})

	t.Run("enabled but someone else", func(t *testing.T) {
		verdict := p.orch.VerifyForLogin(context.Background(), "u1", solidPNG(t, bobColor))
		if verdict.Verified || verdict.Code != CodeNoMatch {
			t.Fatalf("expected no_match, got %+v", verdict)
		}
		if !strings.Contains(verdict.Reason, "access denied") {
			t.Fatalf("unexpected reason %q", verdict.Reason)
		}
	})

	t.Run("profile store down", func(t *testing.T) {
		p.profiles.err = errors.New("connection refused")
		defer func() { p.profiles.err = nil }()
		verdict := p.orch.VerifyForLogin(context.Background(), "u1", solidPNG(t, aliceColor))
		if verdict.Code != CodeProfileUnavailable {
			t.Fatalf("expected profile_unavailable, got %+v", verdict)
		}
	})
}

func TestEnrollThenLoginEndToEnd(t *testing.T) {
	p := newPipeline(t)
	p.profiles.exists["a1"] = true

	if verdict := p.orch.VerifyForLogin(context.Background(), "a1", solidPNG(t, aliceColor)); verdict.Code != CodeNotEnabled {
		t.Fatalf("expected not_enabled before opting in, got %+v", verdict)
	}

	p.enroll(t, "a1", aliceColor)
	p.enroll(t, "a1", aliceAltShot)
	p.profiles.flags["a1"] = true

	verdict := p.orch.VerifyForLogin(context.Background(), "a1", solidPNG(t, aliceColor))
	if !verdict.Verified {
		t.Fatalf("expected login to succeed, got %+v", verdict)
	}
	if verdict.TotalImages != 2 || verdict.MatchedCount != 2 {
		t.Fatalf("expected both enrollment images to match, got %d of %d", verdict.MatchedCount, verdict.TotalImages)
	}
	if verdict.Confidence != 100 || verdict.Distance != 0 {
		t.Fatalf("expected an exact match, got confidence=%v distance=%v", verdict.Confidence, verdict.Distance)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want RejectCode
	}{
		{err: nil, want: CodeNone},
		{err: ErrNoGallery, want: CodeNoGallery},
		{err: errors.Join(errors.New("ctx"), ErrNotEnabled), want: CodeNotEnabled},
		{err: errModelDown, want: CodeModelFailure},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
	if CodeNoMatch.Err() != ErrNoMatch || CodeNone.Err() != nil {
		t.Fatal("RejectCode.Err does not round-trip")
	}
}
