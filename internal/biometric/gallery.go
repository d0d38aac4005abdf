package biometric

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceauth/internal/imageprocessor"
)

const (
	galleryFilePrefix = "face_"
	captureLayout     = "20060102_150405"
)

var galleryExtensions = map[string]bool{
	".jpg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

// EnrollmentImage is one stored reference image.
type EnrollmentImage struct {
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"captured_at"`
}

// GalleryReader is the read side of the gallery used by verification and
// uniqueness scans.
type GalleryReader interface {
	ListImages(subjectID string) ([]string, error)
	Subjects() ([]string, error)
}

// GalleryStore keeps one directory of enrollment images per subject. Images
// are only ever added.
type GalleryStore struct {
	root      string
	now       func() time.Time
	newSuffix func() string
	logger    *zap.Logger
}

// NewGalleryStore opens (creating if needed) the gallery root directory.
func NewGalleryStore(root string, logger *zap.Logger) (*GalleryStore, error) {
	if root == "" {
		return nil, errors.New("gallery root directory is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create gallery root: %w", err)
	}
	return &GalleryStore{
		root: root,
		now:  time.Now,
		newSuffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
		logger: logger.Named("gallery"),
	}, nil
}

// Root returns the gallery root directory.
func (s *GalleryStore) Root() string {
	return s.root
}

// ValidateSubjectID rejects identifiers that cannot safely name a directory.
func ValidateSubjectID(subjectID string) error {
	switch {
	case strings.TrimSpace(subjectID) == "":
		return fmt.Errorf("%w: empty", ErrInvalidSubject)
	case subjectID == "." || subjectID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSubject, subjectID)
	case strings.ContainsAny(subjectID, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSubject, subjectID)
	}
	return nil
}

// ListImages returns the subject's enrollment image paths, newest first.
// A subject without a directory has an empty gallery.
func (s *GalleryStore) ListImages(subjectID string) ([]string, error) {
	if err := ValidateSubjectID(subjectID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, subjectID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGalleryUnavailable, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, galleryFilePrefix) {
			continue
		}
		if !galleryExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		names = append(names, name)
	}
	// Names embed a fixed-width capture timestamp, so reverse lexical order is newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// ListRecords is ListImages with capture times parsed from the file names.
func (s *GalleryStore) ListRecords(subjectID string) ([]EnrollmentImage, error) {
	paths, err := s.ListImages(subjectID)
	if err != nil {
		return nil, err
	}
	records := make([]EnrollmentImage, 0, len(paths))
	for _, path := range paths {
		capturedAt, err := CapturedAt(path)
		if err != nil {
			s.logger.Warn("unparseable gallery file name", zap.String("path", path), zap.Error(err))
		}
		records = append(records, EnrollmentImage{Path: path, CapturedAt: capturedAt})
	}
	return records, nil
}

// AddImage validates the payload decodes, then writes it as a new gallery file.
// Files are created exclusively so concurrent enrollments never share a record.
func (s *GalleryStore) AddImage(subjectID string, data []byte) (string, error) {
	if err := ValidateSubjectID(subjectID); err != nil {
		return "", err
	}
	img, err := imageprocessor.Decode(data)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, subjectID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create subject directory: %w", err)
	}

	capturedAt := s.now().UTC()
	name := fmt.Sprintf("%s%s_%09d_%s%s",
		galleryFilePrefix, capturedAt.Format(captureLayout), capturedAt.Nanosecond(), s.newSuffix(), img.Extension())
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create gallery file: %w", err)
	}
	if _, err := f.Write(img.Data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write gallery file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close gallery file: %w", err)
	}

	s.logger.Info("enrollment image stored", zap.String("subject_id", subjectID), zap.String("path", path))
	return path, nil
}

// Subjects lists every subject directory in the gallery, sorted.
func (s *GalleryStore) Subjects() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGalleryUnavailable, err)
	}
	subjects := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			subjects = append(subjects, entry.Name())
		}
	}
	sort.Strings(subjects)
	return subjects, nil
}

// CapturedAt recovers the capture time encoded in a gallery file name.
func CapturedAt(path string) (time.Time, error) {
	base := strings.TrimPrefix(filepath.Base(path), galleryFilePrefix)
	parts := strings.SplitN(base, "_", 4)
	if len(parts) < 3 {
		return time.Time{}, fmt.Errorf("unexpected gallery file name %q", filepath.Base(path))
	}
	t, err := time.ParseInLocation(captureLayout, parts[0]+"_"+parts[1], time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if nanos, err := strconv.Atoi(parts[2]); err == nil {
		t = t.Add(time.Duration(nanos))
	}
	return t, nil
}
