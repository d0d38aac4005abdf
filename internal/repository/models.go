package repository

import "time"

// Profile is the slice of the user record the face service reads and writes.
type Profile struct {
	ID                       string    `gorm:"column:id;primaryKey;size:64"`
	FacialRecognitionEnabled bool      `gorm:"column:facial_recognition_enabled;not null;default:false"`
	TwoFactorEnabled         bool      `gorm:"column:two_factor_enabled;not null;default:false"`
	CreatedAt                time.Time `gorm:"column:created_at"`
	UpdatedAt                time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Profile) TableName() string {
	return "users"
}

// VerificationLog is the audit record of one verification attempt.
type VerificationLog struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	SubjectID  string    `gorm:"column:subject_id;index;size:64" json:"subject_id"`
	Mode       string    `gorm:"column:mode;size:16" json:"mode"`
	Verified   bool      `gorm:"column:verified" json:"verified"`
	Code       string    `gorm:"column:code;size:32" json:"code,omitempty"`
	Confidence float64   `gorm:"column:confidence" json:"confidence"`
	Distance   float64   `gorm:"column:distance" json:"distance"`
	SHA1Hash   string    `gorm:"column:sha1_hash;index;size:40" json:"sha1_hash"`
	LatencyMs  int64     `gorm:"column:latency_ms" json:"latency_ms"`
	Details    string    `gorm:"column:details;type:text" json:"details"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsAggregation holds raw aggregate values over all verification logs.
type MetricsAggregation struct {
	TotalCount                 int64
	VerifiedCount              int64
	AverageConfidence          float64
	AverageProcessingLatencyMs float64
}
