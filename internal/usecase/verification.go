package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceauth/internal/biometric"
	"github.com/example/faceauth/internal/logging"
	"github.com/example/faceauth/internal/repository"
)

const (
	processingTTL = time.Minute
	resultTTL     = 5 * time.Minute
)

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndSubject(ctx context.Context, requestID, subjectID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, subjectID, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Verifier runs the biometric decision pipeline.
type Verifier interface {
	VerifyAgainstProfile(ctx context.Context, subjectID string, image []byte) biometric.Verdict
	VerifyForLogin(ctx context.Context, subjectID string, image []byte) biometric.Verdict
}

// VerificationUseCase wraps every verification decision with an audit record
// and a short-lived cached copy of the verdict.
type VerificationUseCase struct {
	repo           VerificationRepository
	cache          Cache
	verifier       Verifier
	logger         *zap.Logger
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// VerificationOutcome is a verdict together with the request it was recorded under.
type VerificationOutcome struct {
	RequestID string            `json:"request_id"`
	Verdict   biometric.Verdict `json:"verdict"`
}

type cachedVerification struct {
	RequestID  string    `json:"request_id"`
	SubjectID  string    `json:"subject_id"`
	Mode       string    `json:"mode"`
	Verified   bool      `json:"verified"`
	Code       string    `json:"code"`
	Confidence float64   `json:"confidence"`
	Distance   float64   `json:"distance"`
	Details    string    `json:"details"`
	Hash       string    `json:"sha1_hash"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// DuplicateReport lists the subject's other attempts with byte-identical images.
type DuplicateReport struct {
	Request    *repository.VerificationLog   `json:"request"`
	Duplicates []*repository.VerificationLog `json:"duplicates"`
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, verifier Verifier, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		verifier:       verifier,
		logger:         logger.Named("verification_usecase"),
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// VerifyProfile checks an image against the subject's own enrollment gallery.
func (uc *VerificationUseCase) VerifyProfile(ctx context.Context, subjectID string, image []byte) (*VerificationOutcome, error) {
	return uc.run(ctx, biometric.ModeProfile, subjectID, image, uc.verifier.VerifyAgainstProfile)
}

// VerifyLogin is the strict login gate.
func (uc *VerificationUseCase) VerifyLogin(ctx context.Context, subjectID string, image []byte) (*VerificationOutcome, error) {
	return uc.run(ctx, biometric.ModeLogin, subjectID, image, uc.verifier.VerifyForLogin)
}

type verifyFunc func(ctx context.Context, subjectID string, image []byte) biometric.Verdict

func (uc *VerificationUseCase) run(ctx context.Context, mode biometric.Mode, subjectID string, image []byte, verify verifyFunc) (*VerificationOutcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithSubject(logging.WithOperation(uc.logger, "usecase.verify_"+string(mode), requestID), subjectID)

	cacheKey := resultCacheKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	started := uc.now()
	verdict := verify(ctx, subjectID, image)
	latency := uc.now().Sub(started)

	hash := sha1.Sum(image)
	log := &repository.VerificationLog{
		RequestID:  requestID,
		SubjectID:  subjectID,
		Mode:       string(mode),
		Verified:   verdict.Verified,
		Code:       string(verdict.Code),
		Confidence: verdict.Confidence,
		Distance:   verdict.Distance,
		SHA1Hash:   hex.EncodeToString(hash[:]),
		LatencyMs:  latency.Milliseconds(),
		Details:    verdict.Reason,
		CreatedAt:  uc.now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist verification log", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(cachedFromLog(log))
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return nil, err
	}

	opLogger.Info("verification recorded",
		zap.Bool("verified", verdict.Verified),
		zap.String("code", string(verdict.Code)),
		zap.Duration("latency", latency))
	return &VerificationOutcome{RequestID: requestID, Verdict: verdict}, nil
}

// GetResult retrieves a cached verification outcome or loads from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, subjectID, requestID string) (*repository.VerificationLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultCacheKey(requestID)); err == nil {
		var payload cachedVerification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			// "processing" or a corrupt entry; the database is authoritative.
			opLogger.Debug("cached result not usable", zap.Error(err))
		} else if payload.SubjectID == subjectID {
			return payload.toLog(), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndSubject(ctx, requestID, subjectID)
}

// GetDuplicateReport builds a duplicate detection report for a verification request.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, subjectID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndSubject(ctx, requestID, subjectID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, subjectID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func resultCacheKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func cachedFromLog(log *repository.VerificationLog) cachedVerification {
	return cachedVerification{
		RequestID:  log.RequestID,
		SubjectID:  log.SubjectID,
		Mode:       log.Mode,
		Verified:   log.Verified,
		Code:       log.Code,
		Confidence: log.Confidence,
		Distance:   log.Distance,
		Details:    log.Details,
		Hash:       log.SHA1Hash,
		LatencyMs:  log.LatencyMs,
		CreatedAt:  log.CreatedAt,
	}
}

func (c cachedVerification) toLog() *repository.VerificationLog {
	return &repository.VerificationLog{
		RequestID:  c.RequestID,
		SubjectID:  c.SubjectID,
		Mode:       c.Mode,
		Verified:   c.Verified,
		Code:       c.Code,
		Confidence: c.Confidence,
		Distance:   c.Distance,
		Details:    c.Details,
		SHA1Hash:   c.Hash,
		LatencyMs:  c.LatencyMs,
		CreatedAt:  c.CreatedAt,
	}
}
