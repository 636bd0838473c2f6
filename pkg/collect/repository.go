package collect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/logger"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists extracted records and assigns their UUIDs.
type Store interface {
	EnsureSampleIDs(ctx context.Context, ids []models.SampleID) ([]models.SampleID, error)
	EnsureMetadata(ctx context.Context, entries []models.MetadataEntry) error
	EnsureArtifacts(ctx context.Context, artifacts []models.Artifact) ([]models.Artifact, error)
	ArtifactsForSamples(ctx context.Context, sampleIDs []string) ([]models.Artifact, error)
	CreateChanges(ctx context.Context, changes []models.Change) ([]models.Change, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&SampleIDRecord{}, &ArtifactRecord{}, &ChangeRecord{}, &MetadataRecord{})
}

// EnsureSampleIDs inserts unseen stIds and returns the stored row for every
// input with an stId, in input order. Inputs without an stId are skipped.
func (r *Repository) EnsureSampleIDs(ctx context.Context, ids []models.SampleID) ([]models.SampleID, error) {
	now := time.Now().UTC()
	rows := make([]SampleIDRecord, 0, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id.StID == "" {
			logger.Log.WithField("lab_id", id.LabID).Warn("skipping sample id without stId")
			continue
		}
		rows = append(rows, SampleIDRecord{
			UUID:      uuid.New().String(),
			StID:      id.StID,
			LabID:     id.LabID,
			CreatedAt: now,
			UpdatedAt: now,
		})
		keys = append(keys, id.StID)
	}
	if len(rows) == 0 {
		return []models.SampleID{}, nil
	}

	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "st_id"}},
		DoNothing: true,
	}).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("upserting sample ids: %w", err)
	}

	var stored []SampleIDRecord
	if err := db.Where("st_id IN ?", keys).Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("loading sample ids: %w", err)
	}
	byStID := make(map[string]SampleIDRecord, len(stored))
	for _, s := range stored {
		byStID[s.StID] = s
	}

	out := make([]models.SampleID, 0, len(keys))
	for _, k := range keys {
		if s, ok := byStID[k]; ok {
			out = append(out, s.model())
		}
	}
	return out, nil
}

// EnsureMetadata registers taxonomy values. Keys are stored uppercased so that
// change references match.
func (r *Repository) EnsureMetadata(ctx context.Context, entries []models.MetadataEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]MetadataRecord, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, MetadataRecord{
			Kind:      e.Key,
			Key:       strings.ToUpper(e.Value),
			Value:     e.Value,
			CreatedAt: now,
		})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "key"}},
		DoNothing: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upserting metadata: %w", err)
	}
	return nil
}

// ListMetadata returns taxonomy values of one kind, or all when kind is empty.
func (r *Repository) ListMetadata(ctx context.Context, kind string) ([]MetadataRecord, error) {
	var rows []MetadataRecord
	q := r.db.WithContext(ctx).Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "kind"}},
		{Column: clause.Column{Name: "key"}},
	}})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// EnsureArtifacts inserts unseen (sample, type) pairs and returns the stored
// row for every input.
func (r *Repository) EnsureArtifacts(ctx context.Context, artifacts []models.Artifact) ([]models.Artifact, error) {
	if len(artifacts) == 0 {
		return []models.Artifact{}, nil
	}
	now := time.Now().UTC()
	rows := make([]ArtifactRecord, 0, len(artifacts))
	sampleIDs := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		rows = append(rows, ArtifactRecord{
			UUID:         uuid.New().String(),
			SampleID:     a.SampleID,
			ArtifactType: a.ArtifactType,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		sampleIDs = append(sampleIDs, a.SampleID)
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sample_id"}, {Name: "artifact_type"}},
		DoNothing: true,
	}).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("upserting artifacts: %w", err)
	}

	stored, err := r.ArtifactsForSamples(ctx, sampleIDs)
	if err != nil {
		return nil, err
	}
	byRef := make(map[artifactRef]models.Artifact, len(stored))
	for _, s := range stored {
		byRef[artifactRef{sampleID: s.SampleID, artifactType: s.ArtifactType}] = s
	}

	out := make([]models.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if s, ok := byRef[artifactRef{sampleID: a.SampleID, artifactType: a.ArtifactType}]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// ArtifactsForSamples returns every stored artifact of the given samples.
func (r *Repository) ArtifactsForSamples(ctx context.Context, sampleIDs []string) ([]models.Artifact, error) {
	if len(sampleIDs) == 0 {
		return []models.Artifact{}, nil
	}
	var stored []ArtifactRecord
	if err := r.db.WithContext(ctx).Where("sample_id IN ?", sampleIDs).Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}
	out := make([]models.Artifact, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.model())
	}
	return out, nil
}

func (r *Repository) CreateChanges(ctx context.Context, changes []models.Change) ([]models.Change, error) {
	if len(changes) == 0 {
		return []models.Change{}, nil
	}
	rows := make([]ChangeRecord, 0, len(changes))
	for _, c := range changes {
		rows = append(rows, changeRecord(c))
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("creating changes: %w", err)
	}
	out := make([]models.Change, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}

// ChangesForArtifact returns an artifact's changes, newest first.
func (r *Repository) ChangesForArtifact(ctx context.Context, artifactID string, limit int) ([]models.Change, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ChangeRecord
	result := r.db.WithContext(ctx).
		Where("artifact = ?", artifactID).
		Order("status_date DESC").
		Limit(limit).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	out := make([]models.Change, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out, nil
}
