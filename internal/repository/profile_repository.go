package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Profile flag names accepted by Flag and SetFlag.
const (
	FlagFacialRecognitionEnabled = "facial_recognition_enabled"
	FlagTwoFactorEnabled         = "two_factor_enabled"
)

var flagColumns = map[string]string{
	FlagFacialRecognitionEnabled: "facial_recognition_enabled",
	FlagTwoFactorEnabled:         "two_factor_enabled",
}

// ProfileRepository reads and updates user profile flags.
type ProfileRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewProfileRepository creates a profile repository.
func NewProfileRepository(db *gorm.DB, logger *zap.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:             db,
		logger:         logger.Named("profile_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Exists reports whether a profile with the id exists.
func (r *ProfileRepository) Exists(ctx context.Context, subjectID string) (bool, error) {
	var count int64
	err := r.executeWithRetry(ctx, "repository.profile_exists", subjectID, func() error {
		return r.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", subjectID).Count(&count).Error
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Flag reads one boolean profile flag.
func (r *ProfileRepository) Flag(ctx context.Context, subjectID, flag string) (bool, error) {
	column, err := flagColumn(flag)
	if err != nil {
		return false, err
	}
	var values []bool
	err = r.executeWithRetry(ctx, "repository.profile_flag", subjectID, func() error {
		return r.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", subjectID).Limit(1).Pluck(column, &values).Error
	})
	if err != nil {
		return false, err
	}
	if len(values) == 0 {
		return false, ErrNotFound
	}
	return values[0], nil
}

// SetFlag updates one boolean profile flag.
func (r *ProfileRepository) SetFlag(ctx context.Context, subjectID, flag string, value bool) error {
	column, err := flagColumn(flag)
	if err != nil {
		return err
	}
	return r.executeWithRetry(ctx, "repository.profile_set_flag", subjectID, func() error {
		result := r.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", subjectID).Update(column, value)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Ensure creates the profile if it does not exist yet. Existing flags are kept.
func (r *ProfileRepository) Ensure(ctx context.Context, subjectID string) error {
	return r.executeWithRetry(ctx, "repository.profile_ensure", subjectID, func() error {
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Profile{ID: subjectID}).Error
	})
}

func (r *ProfileRepository) executeWithRetry(ctx context.Context, operation, subjectID string, fn func() error) error {
	return retry(ctx, r.logger, r.retryAttempts, r.initialBackoff, r.maxBackoff, operation, subjectID, fn)
}

func flagColumn(flag string) (string, error) {
	column, ok := flagColumns[flag]
	if !ok {
		return "", fmt.Errorf("unknown profile flag %q", flag)
	}
	return column, nil
}
