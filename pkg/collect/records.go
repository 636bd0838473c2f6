package collect

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/models"
	"gorm.io/gorm"
)

var ErrChangeTarget = errors.New("either an artifact or lab test is required")

type SampleIDRecord struct {
	UUID      string    `gorm:"primaryKey;column:uuid;type:varchar(36)"`
	StID      string    `gorm:"column:st_id;uniqueIndex;not null"`
	LabID     string    `gorm:"column:lab_id"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (SampleIDRecord) TableName() string {
	return "sample_ids"
}

func (r SampleIDRecord) model() models.SampleID {
	return models.SampleID{UUID: r.UUID, StID: r.StID, LabID: r.LabID}
}

type ArtifactRecord struct {
	UUID         string          `gorm:"primaryKey;column:uuid;type:varchar(36)"`
	SampleID     string          `gorm:"column:sample_id;type:varchar(36);not null;uniqueIndex:idx_artifacts_sample_type"`
	ArtifactType string          `gorm:"column:artifact_type;not null;uniqueIndex:idx_artifacts_sample_type"`
	Sample       *SampleIDRecord `gorm:"foreignKey:SampleID;references:UUID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (ArtifactRecord) TableName() string {
	return "artifacts"
}

func (r ArtifactRecord) model() models.Artifact {
	return models.Artifact{UUID: r.UUID, SampleID: r.SampleID, ArtifactType: r.ArtifactType}
}

type ChangeRecord struct {
	UUID         string          `gorm:"primaryKey;column:uuid;type:varchar(36)"`
	StatusDate   time.Time       `gorm:"column:status_date;not null;index"`
	Stage        string          `gorm:"column:stage;not null"`
	ArtifactID   *string         `gorm:"column:artifact;type:varchar(36);index"`
	Artifact     *ArtifactRecord `gorm:"foreignKey:ArtifactID;references:UUID"`
	LabTest      *string         `gorm:"column:lab_test;type:varchar(36)"`
	Facility     string          `gorm:"column:facility"`
	Person       string          `gorm:"column:person"`
	Region       string          `gorm:"column:region"`
	Status       string          `gorm:"column:status;not null"`
	LabRejection string          `gorm:"column:lab_rejection"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (ChangeRecord) TableName() string {
	return "changes"
}

func (r *ChangeRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ArtifactID == nil && r.LabTest == nil {
		return ErrChangeTarget
	}
	if r.UUID == "" {
		r.UUID = uuid.New().String()
	}
	if r.StatusDate.IsZero() {
		r.StatusDate = time.Now().UTC()
	}
	return nil
}

func changeRecord(c models.Change) ChangeRecord {
	return ChangeRecord{
		UUID:       c.UUID,
		StatusDate: c.StatusDate,
		Stage:      c.Stage,
		ArtifactID: optional(c.Artifact),
		LabTest:    optional(c.LabTest),
		Facility:   c.Facility,
		Person:     c.Person,
		Region:     c.Region,
		Status:     c.Status,
	}
}

func (r ChangeRecord) model() models.Change {
	c := models.Change{
		UUID:       r.UUID,
		StatusDate: r.StatusDate,
		Stage:      r.Stage,
		Facility:   r.Facility,
		Person:     r.Person,
		Region:     r.Region,
		Status:     r.Status,
	}
	if r.ArtifactID != nil {
		c.Artifact = *r.ArtifactID
	}
	if r.LabTest != nil {
		c.LabTest = *r.LabTest
	}
	return c
}

// MetadataRecord is one taxonomy value. Changes refer to metadata by the
// uppercased Key.
type MetadataRecord struct {
	Kind      string    `gorm:"primaryKey;column:kind"`
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (MetadataRecord) TableName() string {
	return "metadata"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
