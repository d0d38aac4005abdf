package biometric

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestGallery(t *testing.T) *GalleryStore {
	t.Helper()
	store, err := NewGalleryStore(filepath.Join(t.TempDir(), "facial_data"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewGalleryStore returned error: %v", err)
	}
	return store
}

// stepClock returns successive times one second apart.
func stepClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		t := current
		current = current.Add(time.Second)
		return t
	}
}

func TestGalleryListsNewestFirst(t *testing.T) {
	store := newTestGallery(t)
	store.now = stepClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	first, err := store.AddImage("u1", solidPNG(t, aliceColor))
	if err != nil {
		t.Fatalf("AddImage returned error: %v", err)
	}
	second, err := store.AddImage("u1", solidPNG(t, aliceAltShot))
	if err != nil {
		t.Fatalf("AddImage returned error: %v", err)
	}

	paths, err := store.ListImages("u1")
	if err != nil {
		t.Fatalf("ListImages returned error: %v", err)
	}
	if len(paths) != 2 || paths[0] != second || paths[1] != first {
		t.Fatalf("expected [%s %s], got %v", second, first, paths)
	}

	again, err := store.ListImages("u1")
	if err != nil || strings.Join(again, ",") != strings.Join(paths, ",") {
		t.Fatalf("expected listing to be stable, got %v (%v)", again, err)
	}
}

func TestGalleryFileNameLayout(t *testing.T) {
	store := newTestGallery(t)
	store.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 15, 42, time.UTC) }
	store.newSuffix = func() string { return "abcd1234" }

	path, err := store.AddImage("u1", solidPNG(t, aliceColor))
	if err != nil {
		t.Fatalf("AddImage returned error: %v", err)
	}
	if got := filepath.Base(path); got != "face_20240301_093015_000000042_abcd1234.png" {
		t.Fatalf("unexpected file name %q", got)
	}

	capturedAt, err := CapturedAt(path)
	if err != nil {
		t.Fatalf("CapturedAt returned error: %v", err)
	}
	if !capturedAt.Equal(time.Date(2024, 3, 1, 9, 30, 15, 42, time.UTC)) {
		t.Fatalf("unexpected capture time %v", capturedAt)
	}

	stored, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored image: %v", err)
	}
	if string(stored) != string(solidPNG(t, aliceColor)) {
		t.Fatal("expected stored bytes to equal the enrolled payload")
	}
}

func TestGalleryNeverOverwrites(t *testing.T) {
	store := newTestGallery(t)
	store.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	store.newSuffix = func() string { return "samesame" }

	if _, err := store.AddImage("u1", solidPNG(t, aliceColor)); err != nil {
		t.Fatalf("first AddImage returned error: %v", err)
	}
	if _, err := store.AddImage("u1", solidPNG(t, bobColor)); err == nil {
		t.Fatal("expected colliding file name to fail instead of overwriting")
	}

	paths, _ := store.ListImages("u1")
	if len(paths) != 1 {
		t.Fatalf("expected exactly one stored image, got %v", paths)
	}
}

func TestGalleryRejectsBadInput(t *testing.T) {
	store := newTestGallery(t)

	if _, err := store.AddImage("u1", []byte("definitely not an image")); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if paths, _ := store.ListImages("u1"); len(paths) != 0 {
		t.Fatalf("expected nothing stored for an invalid image, got %v", paths)
	}

	for _, subject := range []string{"", " ", "..", "a/b", `a\b`} {
		if _, err := store.AddImage(subject, solidPNG(t, aliceColor)); !errors.Is(err, ErrInvalidSubject) {
			t.Errorf("AddImage(%q): expected ErrInvalidSubject, got %v", subject, err)
		}
		if _, err := store.ListImages(subject); !errors.Is(err, ErrInvalidSubject) {
			t.Errorf("ListImages(%q): expected ErrInvalidSubject, got %v", subject, err)
		}
	}
}

func TestGalleryListIgnoresForeignFiles(t *testing.T) {
	store := newTestGallery(t)
	if paths, err := store.ListImages("ghost"); err != nil || len(paths) != 0 {
		t.Fatalf("expected empty gallery for unknown subject, got %v (%v)", paths, err)
	}

	dir := filepath.Join(store.Root(), "u1")
	if err := os.MkdirAll(filepath.Join(dir, "face_subdir.png"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"notes.txt", "face_x.txt", "avatar.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if paths, err := store.ListImages("u1"); err != nil || len(paths) != 0 {
		t.Fatalf("expected foreign files to be ignored, got %v (%v)", paths, err)
	}
}

func TestGallerySubjects(t *testing.T) {
	store := newTestGallery(t)
	for _, subject := range []string{"u2", "u1"} {
		if _, err := store.AddImage(subject, solidPNG(t, aliceColor)); err != nil {
			t.Fatalf("AddImage returned error: %v", err)
		}
	}
	subjects, err := store.Subjects()
	if err != nil {
		t.Fatalf("Subjects returned error: %v", err)
	}
	if strings.Join(subjects, ",") != "u1,u2" {
		t.Fatalf("unexpected subjects %v", subjects)
	}

	records, err := store.ListRecords("u1")
	if err != nil || len(records) != 1 || records[0].CapturedAt.IsZero() {
		t.Fatalf("unexpected records %+v (%v)", records, err)
	}
}
