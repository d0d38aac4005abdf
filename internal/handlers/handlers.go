package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/faceauth/internal/auth"
	"github.com/example/faceauth/internal/biometric"
	"github.com/example/faceauth/internal/repository"
	"github.com/example/faceauth/internal/usecase"
)

// MaxUploadSize is the default limit for one uploaded image.
const MaxUploadSize = 5 << 20

// faceLoginTokenTTL bounds the token handed out after a successful facial login.
const faceLoginTokenTTL = 15 * time.Minute

// VerificationService is the audited verification flow.
type VerificationService interface {
	VerifyProfile(ctx context.Context, subjectID string, image []byte) (*usecase.VerificationOutcome, error)
	VerifyLogin(ctx context.Context, subjectID string, image []byte) (*usecase.VerificationOutcome, error)
	GetResult(ctx context.Context, subjectID, requestID string) (*repository.VerificationLog, error)
	GetDuplicateReport(ctx context.Context, subjectID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// EnrollmentService manages galleries and the facial recognition opt-in.
type EnrollmentService interface {
	Enroll(ctx context.Context, subjectID string, image []byte) (*usecase.EnrollmentResult, error)
	ListImages(ctx context.Context, subjectID string) ([]biometric.EnrollmentImage, error)
	CheckUnique(ctx context.Context, excludeSubjectID string, image []byte) (biometric.UniquenessVerdict, error)
	SetFacialRecognition(ctx context.Context, subjectID string, enabled bool) error
}

// TokenIssuer signs the token returned by a successful facial login.
type TokenIssuer interface {
	Issue(subjectID string, ttl time.Duration, methods ...string) (string, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves the face API.
type Handler struct {
	verification   VerificationService
	enrollment     EnrollmentService
	tokens         TokenIssuer
	health         map[string]HealthCheck
	maxUploadBytes int64
	logger         *zap.Logger
}

// Options configures a Handler.
type Options struct {
	Verification   VerificationService
	Enrollment     EnrollmentService
	Tokens         TokenIssuer
	HealthChecks   map[string]HealthCheck
	MaxUploadBytes int64
}

func NewHandler(opts Options, logger *zap.Logger) *Handler {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}
	return &Handler{
		verification:   opts.Verification,
		enrollment:     opts.Enrollment,
		tokens:         opts.Tokens,
		health:         opts.HealthChecks,
		maxUploadBytes: maxUpload,
		logger:         logger.Named("handlers"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler, authMiddleware gin.HandlerFunc) {
	router.GET("/health", h.healthz)

	api := router.Group("/api/v1")
	api.GET("/metrics/summary", h.metricsSummary)

	secured := api.Group("", authMiddleware)
	secured.POST("/faces", h.enroll)
	secured.GET("/faces", h.listFaces)
	secured.POST("/faces/verify", h.verifyProfile)
	secured.POST("/faces/check-unique", h.checkUnique)
	secured.PUT("/profile/facial-recognition", h.setFacialRecognition)
	secured.POST("/auth/verify-facial-for-login", h.verifyLogin)
	secured.GET("/results/:id", h.getResult)
	secured.GET("/results/:id/duplicates", h.getDuplicates)
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failing": failing})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) enroll(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}
	data, ok := h.readImage(c)
	if !ok {
		return
	}

	result, err := h.enrollment.Enroll(c.Request.Context(), subjectID, data)
	if err != nil {
		body := gin.H{"error": err.Error(), "code": biometric.CodeOf(err)}
		if result != nil {
			body["details"] = result
		}
		c.JSON(h.errorStatus(err), body)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) listFaces(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}
	images, err := h.enrollment.ListImages(c.Request.Context(), subjectID)
	if err != nil {
		c.JSON(h.errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject_id": subjectID,
		"count":      len(images),
		"images":     images,
	})
}

func (h *Handler) verifyProfile(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}
	data, ok := h.readImage(c)
	if !ok {
		return
	}

	outcome, err := h.verification.VerifyProfile(c.Request.Context(), subjectID, data)
	if err != nil {
		h.logger.Error("profile verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification could not be completed"})
		return
	}
	c.JSON(profileStatus(outcome.Verdict), outcomeBody(outcome))
}

func (h *Handler) verifyLogin(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}
	data, ok := h.readImage(c)
	if !ok {
		return
	}

	outcome, err := h.verification.VerifyLogin(c.Request.Context(), subjectID, data)
	if err != nil {
		h.logger.Error("login verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"verified": false, "error": "verification could not be completed"})
		return
	}

	body := outcomeBody(outcome)
	if outcome.Verdict.Verified && h.tokens != nil {
		token, err := h.tokens.Issue(subjectID, faceLoginTokenTTL, auth.MethodFace)
		if err != nil {
			h.logger.Error("issuing facial login token failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue login token"})
			return
		}
		body["token"] = token
		body["expires_in"] = int(faceLoginTokenTTL.Seconds())
	}
	c.JSON(loginStatus(outcome.Verdict), body)
}

func (h *Handler) checkUnique(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}
	data, ok := h.readImage(c)
	if !ok {
		return
	}
	verdict, err := h.enrollment.CheckUnique(c.Request.Context(), subjectID, data)
	if err != nil {
		c.JSON(h.errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, verdict)
}

type facialRecognitionRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) setFacialRecognition(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}
	var req facialRecognitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled flag is required"})
		return
	}
	if err := h.enrollment.SetFacialRecognition(c.Request.Context(), subjectID, *req.Enabled); err != nil {
		c.JSON(h.errorStatus(err), gin.H{"error": err.Error(), "code": biometric.CodeOf(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject_id":                 subjectID,
		"facial_recognition_enabled": *req.Enabled,
	})
}

func (h *Handler) getResult(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}
	log, err := h.verification.GetResult(c.Request.Context(), subjectID, c.Param("id"))
	if err != nil {
		c.JSON(h.errorStatus(err), gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusOK, log)
}

func (h *Handler) getDuplicates(c *gin.Context) {
	subjectID, ok := subject(c)
	if !ok {
		return
	}
	report, err := h.verification.GetDuplicateReport(c.Request.Context(), subjectID, c.Param("id"))
	if err != nil {
		c.JSON(h.errorStatus(err), gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request":         report.Request,
		"duplicates":      report.Duplicates,
		"duplicate_count": len(report.Duplicates),
	})
}

func (h *Handler) metricsSummary(c *gin.Context) {
	summary, err := h.verification.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("metrics aggregation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func subject(c *gin.Context) (string, bool) {
	subjectID, ok := auth.SubjectFromContext(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return subjectID, true
}

func outcomeBody(outcome *usecase.VerificationOutcome) gin.H {
	v := outcome.Verdict
	body := gin.H{
		"request_id":    outcome.RequestID,
		"verified":      v.Verified,
		"confidence":    v.Confidence,
		"distance":      v.Distance,
		"matched_count": v.MatchedCount,
		"total_images":  v.TotalImages,
		"reason":        v.Reason,
		"mode":          v.Mode,
	}
	if v.Code != biometric.CodeNone {
		body["code"] = v.Code
	}
	if v.Face != nil {
		body["face"] = v.Face
	}
	if v.Liveness != nil {
		body["liveness"] = v.Liveness
	}
	return body
}

// profileStatus maps a profile verification verdict to an HTTP status.
func profileStatus(v biometric.Verdict) int {
	if v.Verified {
		return http.StatusOK
	}
	switch v.Code {
	case biometric.CodeNoMatch:
		return http.StatusUnauthorized
	case biometric.CodeSubjectNotFound:
		return http.StatusNotFound
	case biometric.CodeNotEnabled:
		return http.StatusForbidden
	case biometric.CodeModelFailure, biometric.CodeGalleryUnavailable, biometric.CodeProfileUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// loginStatus maps a login verdict to an HTTP status. Every rejection other
// than a disabled opt-in is reported as unauthorized.
func loginStatus(v biometric.Verdict) int {
	switch {
	case v.Verified:
		return http.StatusOK
	case v.Code == biometric.CodeNotEnabled:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

func (h *Handler) errorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, biometric.ErrSubjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, biometric.ErrDuplicateFace):
		return http.StatusConflict
	case errors.Is(err, biometric.ErrInvalidImage),
		errors.Is(err, biometric.ErrInvalidSubject),
		errors.Is(err, biometric.ErrNoFaceDetected),
		errors.Is(err, biometric.ErrLivenessFailed),
		errors.Is(err, biometric.ErrNoGallery):
		return http.StatusBadRequest
	case errors.Is(err, biometric.ErrModelFailure),
		errors.Is(err, biometric.ErrGalleryUnavailable),
		errors.Is(err, biometric.ErrProfileUnavailable):
		return http.StatusServiceUnavailable
	default:
		h.logger.Error("unexpected error", zap.Error(err))
		return http.StatusInternalServerError
	}
}
