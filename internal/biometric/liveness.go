package biometric

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/example/faceauth/internal/imageprocessor"
)

// SecurityLevel tags a liveness verdict for triage.
type SecurityLevel string

const (
	SecurityLow      SecurityLevel = "LOW"
	SecurityMedium   SecurityLevel = "MEDIUM"
	SecurityHigh     SecurityLevel = "HIGH"
	SecurityCritical SecurityLevel = "CRITICAL"
	SecurityError    SecurityLevel = "ERROR"
)

// DeviceDetection describes one presentation-attack carrier found in the image.
type DeviceDetection struct {
	ClassID     int                        `json:"class_id"`
	Name        string                     `json:"name"`
	Confidence  float64                    `json:"confidence"`
	Box         imageprocessor.BoundingBox `json:"bbox"`
	AreaPercent float64                    `json:"area_percent"`
}

// LivenessVerdict is the tiered spoof decision for one image.
type LivenessVerdict struct {
	IsAlive         bool              `json:"is_alive"`
	SecurityLevel   SecurityLevel     `json:"security_level"`
	Reason          string            `json:"reason"`
	DetectedDevices []DeviceDetection `json:"detected_devices"`
	Warnings        []string          `json:"warnings"`
	Accessories     []string          `json:"accessories,omitempty"`
}

// LivenessConfig tunes the classifier.
type LivenessConfig struct {
	// FailClosedWhenUnavailable rejects instead of skipping when no detector is configured.
	FailClosedWhenUnavailable bool
	// MinConfidence drops detections below this score before classification.
	MinConfidence float64
	// DuplicateIoU merges same-class detections overlapping at least this much.
	// Zero or less disables merging.
	DuplicateIoU float64
}

// LivenessClassifier turns object-detector output into a LivenessVerdict.
type LivenessClassifier struct {
	detector imageprocessor.ObjectDetector
	taxonomy *Taxonomy
	cfg      LivenessConfig
	logger   *zap.Logger
}

// NewLivenessClassifier builds a classifier. A nil detector means the spoof
// detector is unavailable.
func NewLivenessClassifier(detector imageprocessor.ObjectDetector, taxonomy *Taxonomy, cfg LivenessConfig, logger *zap.Logger) *LivenessClassifier {
	return &LivenessClassifier{
		detector: detector,
		taxonomy: taxonomy,
		cfg:      cfg,
		logger:   logger.Named("liveness"),
	}
}

// Available reports whether an object detector is configured.
func (l *LivenessClassifier) Available() bool {
	return l.detector != nil
}

type classifiedDetection struct {
	imageprocessor.ObjectDetection
	info ClassInfo
}

// Classify evaluates the liveness rules in order; the first matching rule wins.
// Detector unavailability passes (unless configured to fail closed) while any
// fault during classification rejects.
func (l *LivenessClassifier) Classify(ctx context.Context, img *imageprocessor.Image) (verdict LivenessVerdict) {
	if l.detector == nil {
		if l.cfg.FailClosedWhenUnavailable {
			l.logger.Warn("object detector unavailable, rejecting")
			return faultVerdict("object detector unavailable")
		}
		l.logger.Warn("object detector unavailable, liveness check skipped")
		return LivenessVerdict{
			IsAlive:       true,
			SecurityLevel: SecurityLow,
			Reason:        "check skipped: object detector unavailable",
		}
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("liveness classification panicked", zap.Any("panic", r))
			verdict = faultVerdict(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if img == nil {
		return faultVerdict("internal error: no image to analyse")
	}

	detections, err := l.detector.DetectObjects(ctx, img)
	if err != nil {
		l.logger.Error("object detection failed", zap.Error(err))
		return faultVerdict(fmt.Sprintf("internal error: %v", err))
	}

	var devices, occlusions, allowed, suspicious []classifiedDetection
	for _, det := range detections {
		if det.Confidence < l.cfg.MinConfidence {
			continue
		}
		info := l.taxonomy.Lookup(det.ClassID)
		cd := classifiedDetection{ObjectDetection: det, info: info}
		switch info.Category {
		case CategoryDevice:
			devices = append(devices, cd)
		case CategoryOcclusionAccessory:
			occlusions = append(occlusions, cd)
		case CategoryAllowedAccessory:
			allowed = append(allowed, cd)
		case CategorySuspiciousObject:
			suspicious = append(suspicious, cd)
		}
	}

	if len(devices) > 0 {
		return l.deviceVerdict(img, devices)
	}

	occlusions = distinctDetections(occlusions, l.cfg.DuplicateIoU)
	if len(occlusions) >= 2 {
		return LivenessVerdict{
			IsAlive:       false,
			SecurityLevel: SecurityHigh,
			Reason:        fmt.Sprintf("multiple face-occluding accessories detected: %s", strings.Join(classNames(occlusions), ", ")),
			Warnings:      describe("occluding accessory", occlusions),
		}
	}

	accessories := classNames(distinctDetections(allowed, l.cfg.DuplicateIoU))
	if len(allowed) > 0 && len(occlusions) == 0 && len(suspicious) == 0 {
		return LivenessVerdict{
			IsAlive:       true,
			SecurityLevel: SecurityLow,
			Reason:        fmt.Sprintf("allowed accessory detected: %s", strings.Join(accessories, ", ")),
			Accessories:   accessories,
		}
	}

	if len(suspicious) > 0 || len(occlusions) == 1 {
		warnings := append(describe("occluding accessory", occlusions), describe("suspicious object", suspicious)...)
		return LivenessVerdict{
			IsAlive:       true,
			SecurityLevel: SecurityMedium,
			Reason:        "objects of interest detected near the face",
			Warnings:      warnings,
			Accessories:   accessories,
		}
	}

	return LivenessVerdict{
		IsAlive:       true,
		SecurityLevel: SecurityLow,
		Reason:        "no objects of interest detected",
	}
}

func (l *LivenessClassifier) deviceVerdict(img *imageprocessor.Image, devices []classifiedDetection) LivenessVerdict {
	imageArea := float64(img.Width * img.Height)
	found := make([]DeviceDetection, 0, len(devices))
	for _, det := range devices {
		var areaPercent float64
		if imageArea > 0 {
			areaPercent = round2(det.Box.Area() / imageArea * 100)
		}
		found = append(found, DeviceDetection{
			ClassID:     det.ClassID,
			Name:        det.info.Name,
			Confidence:  round2(det.Confidence),
			Box:         det.Box,
			AreaPercent: areaPercent,
		})
	}
	l.logger.Warn("presentation device detected", zap.Int("devices", len(found)))
	return LivenessVerdict{
		IsAlive:         false,
		SecurityLevel:   SecurityCritical,
		Reason:          fmt.Sprintf("presentation device detected: %s", strings.Join(classNames(devices), ", ")),
		DetectedDevices: found,
	}
}

func faultVerdict(reason string) LivenessVerdict {
	return LivenessVerdict{
		IsAlive:       false,
		SecurityLevel: SecurityError,
		Reason:        reason,
	}
}

// distinctDetections keeps the highest-confidence detection of each cluster of
// same-class boxes overlapping by at least iou.
func distinctDetections(dets []classifiedDetection, iou float64) []classifiedDetection {
	if iou <= 0 || len(dets) < 2 {
		return dets
	}
	sorted := make([]classifiedDetection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	kept := make([]classifiedDetection, 0, len(sorted))
	for _, candidate := range sorted {
		duplicate := false
		for _, k := range kept {
			if k.ClassID == candidate.ClassID && intersectionOverUnion(k.Box, candidate.Box) >= iou {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func classNames(dets []classifiedDetection) []string {
	names := make([]string, 0, len(dets))
	seen := make(map[string]bool, len(dets))
	for _, det := range dets {
		if !seen[det.info.Name] {
			seen[det.info.Name] = true
			names = append(names, det.info.Name)
		}
	}
	return names
}

func describe(kind string, dets []classifiedDetection) []string {
	out := make([]string, 0, len(dets))
	for _, det := range dets {
		out = append(out, fmt.Sprintf("%s detected: %s (%.2f)", kind, det.info.Name, det.Confidence))
	}
	return out
}
