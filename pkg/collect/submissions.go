package collect

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusAccepted   = "accepted"
	StatusProcessed  = "processed"
	StatusDuplicate  = "duplicate"
	StatusUnresolved = "unresolved"
	StatusRejected   = "rejected"
	StatusFailed     = "failed"
)

const (
	FormatXML  = "xml"
	FormatJSON = "json"
)

const (
	SourceCollect   = "collect"
	SourcePublisher = "publisher"
)

var ErrNotFound = errors.New("submission not found")

// SubmissionRecord is the log entry for one received submission, including
// its raw body so it can be processed again.
type SubmissionRecord struct {
	ID          string            `json:"id" gorm:"primaryKey;column:id"`
	Source      string            `json:"source" gorm:"column:source"`
	Format      string            `json:"format" gorm:"column:format"`
	FormType    string            `json:"form_type,omitempty" gorm:"column:form_type"`
	InstanceID  string            `json:"instance_id,omitempty" gorm:"column:instance_id;index"`
	DedupKey    string            `json:"-" gorm:"column:dedup_key;index"`
	Raw         string            `json:"-" gorm:"column:raw;type:text"`
	ArchiveKey  string            `json:"archive_key,omitempty" gorm:"column:archive_key"`
	Status      string            `json:"status" gorm:"column:status;index"`
	Error       string            `json:"error,omitempty" gorm:"column:error"`
	Result      datatypes.JSONMap `json:"result,omitempty" gorm:"column:result"`
	CreatedAt   time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"column:updated_at"`
	RetryCount  int               `json:"retry_count" gorm:"column:retry_count"`
	LastAttempt *time.Time        `json:"last_attempt,omitempty" gorm:"column:last_attempt"`
}

func (SubmissionRecord) TableName() string {
	return "submissions"
}

type SubmissionRepository struct {
	db *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&SubmissionRecord{})
}

func (r *SubmissionRepository) Create(ctx context.Context, rec *SubmissionRecord) error {
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *SubmissionRepository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	return r.db.WithContext(ctx).Model(&SubmissionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        errMsg,
			"updated_at":   time.Now().UTC(),
			"last_attempt": time.Now().UTC(),
		}).Error
}

// Identify stores what classification learned about a submission.
func (r *SubmissionRepository) Identify(ctx context.Context, id, formType, instanceID, dedupKey string) error {
	return r.db.WithContext(ctx).Model(&SubmissionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"form_type":   formType,
			"instance_id": instanceID,
			"dedup_key":   dedupKey,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// Complete marks a submission processed and stores its result summary.
func (r *SubmissionRepository) Complete(ctx context.Context, id, formType string, result map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&SubmissionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       StatusProcessed,
			"error":        "",
			"form_type":    formType,
			"result":       datatypes.JSONMap(result),
			"updated_at":   time.Now().UTC(),
			"last_attempt": time.Now().UTC(),
		}).Error
}

func (r *SubmissionRepository) SetArchiveKey(ctx context.Context, id, key string) error {
	return r.db.WithContext(ctx).Model(&SubmissionRecord{}).
		Where("id = ?", id).
		Update("archive_key", key).Error
}

func (r *SubmissionRepository) IncrementRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&SubmissionRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *SubmissionRepository) Get(ctx context.Context, id string) (*SubmissionRecord, error) {
	var rec SubmissionRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rec, nil
}

// FindProcessed returns the processed submission with the given dedup key.
func (r *SubmissionRepository) FindProcessed(ctx context.Context, dedupKey string) (*SubmissionRecord, error) {
	var rec SubmissionRecord
	result := r.db.WithContext(ctx).
		Where("dedup_key = ? AND status = ?", dedupKey, StatusProcessed).
		Order("created_at ASC").
		First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rec, nil
}

// ListByStatus returns submissions in one status, oldest first.
func (r *SubmissionRepository) ListByStatus(ctx context.Context, status string, limit int) ([]SubmissionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []SubmissionRecord
	result := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&recs)
	if result.Error != nil {
		return nil, result.Error
	}
	return recs, nil
}

// CleanupExpired removes finished submissions older than ttl. Unresolved ones
// are kept for the retry worker.
func (r *SubmissionRepository) CleanupExpired(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	return r.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", cutoff, []string{StatusProcessed, StatusDuplicate, StatusRejected}).
		Delete(&SubmissionRecord{}).Error
}
