package biometric

import (
	"context"
	"image/color"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/faceauth/internal/imageprocessor"
)

func newTestClassifier(t *testing.T, detector imageprocessor.ObjectDetector, cfg LivenessConfig) *LivenessClassifier {
	t.Helper()
	return NewLivenessClassifier(detector, testTaxonomy(t), cfg, zap.NewNop())
}

func TestClassifyRules(t *testing.T) {
	tests := []struct {
		name      string
		objects   []imageprocessor.ObjectDetection
		wantAlive bool
		wantLevel SecurityLevel
		wantIn    string
	}{
		{
			name:      "nothing of interest",
			objects:   nil,
			wantAlive: true,
			wantLevel: SecurityLow,
			wantIn:    "no objects of interest",
		},
		{
			name: "unknown classes are ignored",
			objects: []imageprocessor.ObjectDetection{
				{ClassID: 0, Confidence: 0.99, Box: box(0, 0, 10, 10)},
			},
			wantAlive: true,
			wantLevel: SecurityLow,
			wantIn:    "no objects of interest",
		},
		{
			name: "phone is a presentation device",
			objects: []imageprocessor.ObjectDetection{
				{ClassID: 67, Confidence: 0.91, Box: box(0, 0, 5, 5)},
			},
			wantAlive: false,
			wantLevel: SecurityCritical,
			wantIn:    "cell phone",
		},
		{
			name: "device wins over allowed accessory",
			objects: []imageprocessor.ObjectDetection{
				{ClassID: 80, Confidence: 0.95, Box: box(3, 3, 2, 1)},
				{ClassID: 62, Confidence: 0.6, Box: box(0, 0, 10, 10)},
			},
			wantAlive: false,
			wantLevel: SecurityCritical,
			wantIn:    "tv",
		},
		{
			name: "single allowed accessory",
			objects: []imageprocessor.ObjectDetection{
				{ClassID: 80, Confidence: 0.88, Box: box(3, 3, 4, 1)},
			},
			wantAlive: true,
			wantLevel: SecurityLow,
			wantIn:    "allowed accessory detected: glasses",
		},
		{
			name: "two distinct occlusions",
			objects: []imageprocessor.ObjectDetection{
				{ClassID: 83, Confidence: 0.8, Box: box(2, 0, 6, 2)},
				{ClassID: 84, Confidence: 0.7, Box: box(3, 6, 4, 3)},
			},
			wantAlive: false,
			wantLevel: SecurityHigh,
			wantIn:    "hat, face mask",
		},
		{
			name: "overlapping duplicate occlusion counts once",
			objects: []imageprocessor.ObjectDetection{
				{ClassID: 84, Confidence: 0.8, Box: box(3, 6, 4, 3)},
				{ClassID: 84, Confidence: 0.75, Box: box(3, 6, 4, 3.2)},
			},
			wantAlive: true,
			wantLevel: SecurityMedium,
		},
		{
			name: "suspicious object",
			objects: []imageprocessor.ObjectDetection{
				{ClassID: 41, Confidence: 0.66, Box: box(6, 6, 2, 2)},
			},
			wantAlive: true,
			wantLevel: SecurityMedium,
		},
		{
			name: "allowed accessory with suspicious object",
			objects: []imageprocessor.ObjectDetection{
				{ClassID: 81, Confidence: 0.9, Box: box(3, 3, 4, 1)},
				{ClassID: 39, Confidence: 0.6, Box: box(7, 5, 1, 4)},
			},
			wantAlive: true,
			wantLevel: SecurityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detector := &fakeDetector{objects: map[color.RGBA][]imageprocessor.ObjectDetection{aliceColor: tt.objects}}
			classifier := newTestClassifier(t, detector, LivenessConfig{DuplicateIoU: 0.5})

			verdict := classifier.Classify(context.Background(), decodedImage(t, aliceColor))

			if verdict.IsAlive != tt.wantAlive {
				t.Fatalf("IsAlive = %v, want %v (%+v)", verdict.IsAlive, tt.wantAlive, verdict)
			}
			if verdict.SecurityLevel != tt.wantLevel {
				t.Fatalf("SecurityLevel = %s, want %s (%s)", verdict.SecurityLevel, tt.wantLevel, verdict.Reason)
			}
			if tt.wantIn != "" && !strings.Contains(verdict.Reason, tt.wantIn) {
				t.Fatalf("reason %q does not mention %q", verdict.Reason, tt.wantIn)
			}
		})
	}
}

func TestClassifyDeviceReportsArea(t *testing.T) {
	detector := &fakeDetector{objects: map[color.RGBA][]imageprocessor.ObjectDetection{
		aliceColor: {{ClassID: 63, Confidence: 0.876, Box: box(0, 0, 5, 5)}},
	}}
	classifier := newTestClassifier(t, detector, LivenessConfig{})

	verdict := classifier.Classify(context.Background(), decodedImage(t, aliceColor))

	if len(verdict.DetectedDevices) != 1 {
		t.Fatalf("expected one device, got %+v", verdict.DetectedDevices)
	}
	device := verdict.DetectedDevices[0]
	if device.Name != "laptop" || device.AreaPercent != 25 || device.Confidence != 0.88 {
		t.Fatalf("unexpected device detail %+v", device)
	}
}

func TestClassifyMinConfidenceFiltersNoise(t *testing.T) {
	detector := &fakeDetector{objects: map[color.RGBA][]imageprocessor.ObjectDetection{
		aliceColor: {{ClassID: 67, Confidence: 0.2, Box: box(0, 0, 5, 5)}},
	}}
	classifier := newTestClassifier(t, detector, LivenessConfig{MinConfidence: 0.25})

	verdict := classifier.Classify(context.Background(), decodedImage(t, aliceColor))

	if !verdict.IsAlive || verdict.SecurityLevel != SecurityLow {
		t.Fatalf("expected low-confidence device to be dropped, got %+v", verdict)
	}
}

func TestClassifyDetectorUnavailable(t *testing.T) {
	t.Run("fails open by default", func(t *testing.T) {
		classifier := newTestClassifier(t, nil, LivenessConfig{})
		if classifier.Available() {
			t.Fatal("expected classifier without detector to be unavailable")
		}
		verdict := classifier.Classify(context.Background(), decodedImage(t, aliceColor))
		if !verdict.IsAlive || verdict.SecurityLevel != SecurityLow {
			t.Fatalf("expected skipped check to pass, got %+v", verdict)
		}
		if !strings.Contains(verdict.Reason, "skipped") {
			t.Fatalf("expected reason to say the check was skipped, got %q", verdict.Reason)
		}
	})

	t.Run("fails closed when configured", func(t *testing.T) {
		classifier := newTestClassifier(t, nil, LivenessConfig{FailClosedWhenUnavailable: true})
		verdict := classifier.Classify(context.Background(), decodedImage(t, aliceColor))
		if verdict.IsAlive || verdict.SecurityLevel != SecurityError {
			t.Fatalf("expected rejection, got %+v", verdict)
		}
	})
}

func TestClassifyFaultsReject(t *testing.T) {
	t.Run("detector error", func(t *testing.T) {
		classifier := newTestClassifier(t, &fakeDetector{err: errModelDown}, LivenessConfig{})
		verdict := classifier.Classify(context.Background(), decodedImage(t, aliceColor))
		if verdict.IsAlive || verdict.SecurityLevel != SecurityError {
			t.Fatalf("expected ERROR verdict, got %+v", verdict)
		}
	})

	t.Run("detector panic", func(t *testing.T) {
		classifier := newTestClassifier(t, &fakeDetector{panics: true}, LivenessConfig{})
		verdict := classifier.Classify(context.Background(), decodedImage(t, aliceColor))
		if verdict.IsAlive || verdict.SecurityLevel != SecurityError {
			t.Fatalf("expected ERROR verdict, got %+v", verdict)
		}
		if !strings.Contains(verdict.Reason, "tensor shape mismatch") {
			t.Fatalf("expected panic value in reason, got %q", verdict.Reason)
		}
	})

	t.Run("nil image", func(t *testing.T) {
		detector := &fakeDetector{}
		classifier := newTestClassifier(t, detector, LivenessConfig{})
		verdict := classifier.Classify(context.Background(), nil)
		if verdict.IsAlive || verdict.SecurityLevel != SecurityError {
			t.Fatalf("expected ERROR verdict, got %+v", verdict)
		}
		if detector.calls != 0 {
			t.Fatalf("detector should not be called without an image")
		}
	})
}

func TestIntersectionOverUnion(t *testing.T) {
	if got := intersectionOverUnion(box(0, 0, 2, 2), box(0, 0, 2, 2)); got != 1 {
		t.Fatalf("identical boxes: got %v", got)
	}
	if got := intersectionOverUnion(box(0, 0, 2, 2), box(5, 5, 2, 2)); got != 0 {
		t.Fatalf("disjoint boxes: got %v", got)
	}
	if got := intersectionOverUnion(box(0, 0, 2, 2), box(1, 0, 2, 2)); got < 0.333 || got > 0.334 {
		t.Fatalf("half overlap: got %v", got)
	}
}

func TestTaxonomy(t *testing.T) {
	taxonomy := testTaxonomy(t)
	if got := taxonomy.Lookup(67); got.Category != CategoryDevice || got.Name != "cell phone" {
		t.Fatalf("unexpected lookup %+v", got)
	}
	if got := taxonomy.Lookup(999); got.Category != CategoryIgnored {
		t.Fatalf("expected unknown id to be ignored, got %s", got.Category)
	}
	if _, err := NewTaxonomy(
		ClassInfo{ID: 1, Name: "a", Category: CategoryDevice},
		ClassInfo{ID: 1, Name: "b", Category: CategoryAllowedAccessory},
	); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}
