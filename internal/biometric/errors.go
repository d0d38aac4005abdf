package biometric

import (
	"errors"

	"github.com/example/faceauth/internal/imageprocessor"
)

var (
	// ErrInvalidImage is returned when an image payload cannot be decoded.
	ErrInvalidImage = imageprocessor.ErrInvalidImage
	// ErrNoFaceDetected means the face locator found nothing.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrNoGallery means the subject has no enrollment images.
	ErrNoGallery = errors.New("no face registered")
	// ErrNotEnabled is the login-only rejection for subjects without facial recognition.
	ErrNotEnabled = errors.New("facial recognition not enabled")
	// ErrModelFailure wraps a failed call into one of the external models.
	ErrModelFailure = errors.New("model failure")
	// ErrInvalidSubject rejects identifiers that cannot name a gallery directory.
	ErrInvalidSubject = errors.New("invalid subject identifier")
	// ErrSubjectNotFound means the profile store has no such subject.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrProfileUnavailable means the profile store could not be consulted.
	ErrProfileUnavailable = errors.New("profile store unavailable")
	// ErrGalleryUnavailable means the enrollment gallery could not be read.
	ErrGalleryUnavailable = errors.New("gallery unavailable")
	// ErrLivenessFailed means the spoof check rejected the image.
	ErrLivenessFailed = errors.New("liveness check failed")
	// ErrNoMatch means no gallery image matched the probe.
	ErrNoMatch = errors.New("face does not match")
	// ErrDuplicateFace means the face is already enrolled under another subject.
	ErrDuplicateFace = errors.New("face already registered by another user")
)

// RejectCode classifies why a verification was not granted.
type RejectCode string

const (
	CodeNone               RejectCode = ""
	CodeInvalidImage       RejectCode = "invalid_image"
	CodeInvalidSubject     RejectCode = "invalid_subject"
	CodeNoFaceDetected     RejectCode = "no_face_detected"
	CodeNoGallery          RejectCode = "no_gallery"
	CodeGalleryUnavailable RejectCode = "gallery_unavailable"
	CodeNotEnabled         RejectCode = "not_enabled"
	CodeSubjectNotFound    RejectCode = "subject_not_found"
	CodeProfileUnavailable RejectCode = "profile_unavailable"
	CodeLivenessFailed     RejectCode = "liveness_failed"
	CodeNoMatch            RejectCode = "no_match"
	CodeModelFailure       RejectCode = "model_failure"
	CodeDuplicateFace      RejectCode = "duplicate_face"
)

// codeErrors is ordered so CodeOf is deterministic for wrapped chains.
var codeErrors = []struct {
	code RejectCode
	err  error
}{
	{CodeInvalidImage, ErrInvalidImage},
	{CodeInvalidSubject, ErrInvalidSubject},
	{CodeSubjectNotFound, ErrSubjectNotFound},
	{CodeProfileUnavailable, ErrProfileUnavailable},
	{CodeNotEnabled, ErrNotEnabled},
	{CodeGalleryUnavailable, ErrGalleryUnavailable},
	{CodeNoGallery, ErrNoGallery},
	{CodeNoFaceDetected, ErrNoFaceDetected},
	{CodeLivenessFailed, ErrLivenessFailed},
	{CodeDuplicateFace, ErrDuplicateFace},
	{CodeNoMatch, ErrNoMatch},
	{CodeModelFailure, ErrModelFailure},
}

// Err returns the sentinel error for the code, or nil for CodeNone.
func (c RejectCode) Err() error {
	for _, entry := range codeErrors {
		if entry.code == c {
			return entry.err
		}
	}
	return nil
}

// CodeOf maps an error produced by this package back to its RejectCode.
// Unknown errors are treated as model failures.
func CodeOf(err error) RejectCode {
	if err == nil {
		return CodeNone
	}
	for _, entry := range codeErrors {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeModelFailure
}
