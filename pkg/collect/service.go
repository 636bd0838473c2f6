package collect

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/specimen-tracking/pkg/archive"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/logger"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/models"
	"github.com/synaptica-ai/specimen-tracking/pkg/observability/metrics"
	"github.com/synaptica-ai/specimen-tracking/pkg/odk"
)

// Event types published by the service.
const (
	EventChangesCreated       = "changes_created"
	EventSubmissionUnresolved = "submission_unresolved"
	EventSubmissionRejected   = "submission_rejected"
)

const eventSource = "specimen-tracking"

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Taxonomy reports whether a metadata value is registered.
type Taxonomy interface {
	Known(kind, value string) bool
}

// Submission is one raw body received from ODK.
type Submission struct {
	Source string
	Format string
	Raw    []byte
}

// Result describes what a submission produced.
type Result struct {
	SubmissionID string            `json:"submission_id"`
	Status       string            `json:"status"`
	FormType     string            `json:"form_type,omitempty"`
	DuplicateOf  string            `json:"duplicate_of,omitempty"`
	SampleIDs    []models.SampleID `json:"sample_ids,omitempty"`
	Artifacts    []models.Artifact `json:"artifacts,omitempty"`
	Changes      []models.Change   `json:"changes,omitempty"`
}

type ServiceDeps struct {
	Transformer *Transformer
	Store       Store
	Submissions *SubmissionRepository
	Dedup       Deduper
	Archive     archive.Store
	Taxonomy    Taxonomy
	Events      Publisher
	Retry       Publisher
	DLQ         Publisher
	RetryDelay  time.Duration
	MaxRetries  int
	LogTTL      time.Duration
}

type Service struct {
	transformer *Transformer
	store       Store
	submissions *SubmissionRepository
	dedup       Deduper
	archive     archive.Store
	taxonomy    Taxonomy
	events      Publisher
	retry       Publisher
	dlq         Publisher
	retryDelay  time.Duration
	maxRetries  int
	logTTL      time.Duration
}

func NewService(deps ServiceDeps) *Service {
	t := deps.Transformer
	if t == nil {
		t = NewTransformer()
	}
	return &Service{
		transformer: t,
		store:       deps.Store,
		submissions: deps.Submissions,
		dedup:       deps.Dedup,
		archive:     deps.Archive,
		taxonomy:    deps.Taxonomy,
		events:      deps.Events,
		retry:       deps.Retry,
		dlq:         deps.DLQ,
		retryDelay:  deps.RetryDelay,
		maxRetries:  deps.MaxRetries,
		logTTL:      deps.LogTTL,
	}
}

// Submit logs, classifies and applies one submission. Rejected submissions
// return an error for which IsRejection holds. Submissions with unresolved
// references are queued for retry and return a Result with status unresolved
// alongside the *UnresolvedReferenceError.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	id := uuid.New().String()
	rec := &SubmissionRecord{
		ID:     id,
		Source: sub.Source,
		Format: sub.Format,
		Raw:    string(sub.Raw),
		Status: StatusAccepted,
	}
	if err := s.submissions.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting submission record: %w", err)
	}
	s.archiveRaw(ctx, rec, sub.Raw)

	form, err := s.classify(sub.Format, sub.Raw)
	if err != nil {
		s.reject(ctx, rec, err)
		return nil, err
	}
	rec.FormType = form.Type.String()
	rec.InstanceID = InstanceID(form)
	rec.DedupKey = DedupKey(form, sub.Raw)
	log := logger.ForSubmission(id, rec.FormType)
	if err := s.submissions.Identify(ctx, id, rec.FormType, rec.InstanceID, rec.DedupKey); err != nil {
		log.WithError(err).Warn("failed to record submission identity")
	}

	if owner, dup := s.duplicateOf(ctx, rec); dup {
		log.WithField("duplicate_of", owner).Info("duplicate submission ignored")
		s.setStatus(ctx, rec, StatusDuplicate, "duplicate of "+owner)
		metrics.ObserveSubmission(sub.Source, StatusDuplicate)
		return &Result{SubmissionID: id, Status: StatusDuplicate, FormType: rec.FormType, DuplicateOf: owner}, nil
	}

	res, err := s.process(ctx, rec, form)
	if err != nil {
		if IsUnresolved(err) {
			s.queueRetry(ctx, rec, err)
			return &Result{SubmissionID: id, Status: StatusUnresolved, FormType: rec.FormType}, err
		}
		s.releaseDedup(ctx, rec)
		if IsRejection(err) {
			s.reject(ctx, rec, err)
			return nil, err
		}
		log.WithError(err).Error("failed to apply submission")
		s.setStatus(ctx, rec, StatusFailed, err.Error())
		metrics.ObserveSubmission(sub.Source, StatusFailed)
		return nil, err
	}
	metrics.ObserveSubmission(sub.Source, StatusProcessed)
	return res, nil
}

// Reprocess runs an unresolved submission through the pipeline again.
func (s *Service) Reprocess(ctx context.Context, id string) (*Result, error) {
	rec, err := s.submissions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusUnresolved {
		logger.ForSubmission(id, rec.FormType).WithField("status", rec.Status).Info("submission no longer pending retry")
		return &Result{SubmissionID: id, Status: rec.Status, FormType: rec.FormType}, nil
	}
	if err := s.submissions.IncrementRetry(ctx, id); err != nil {
		return nil, fmt.Errorf("recording retry: %w", err)
	}
	rec.RetryCount++

	form, err := s.classify(rec.Format, []byte(rec.Raw))
	if err != nil {
		s.reject(ctx, rec, err)
		metrics.ObserveRetry("rejected")
		return nil, err
	}

	res, err := s.process(ctx, rec, form)
	switch {
	case err == nil:
		metrics.ObserveRetry("processed")
		return res, nil
	case IsUnresolved(err):
		if s.maxRetries > 0 && rec.RetryCount >= s.maxRetries {
			s.releaseDedup(ctx, rec)
			s.reject(ctx, rec, fmt.Errorf("retries exhausted: %w", err))
			metrics.ObserveRetry("exhausted")
			return nil, err
		}
		s.queueRetry(ctx, rec, err)
		metrics.ObserveRetry("unresolved")
		return &Result{SubmissionID: id, Status: StatusUnresolved, FormType: rec.FormType}, err
	default:
		// The retry event being handled is spent, so queue another one.
		logger.ForSubmission(id, rec.FormType).WithError(err).Error("failed to reprocess submission")
		s.queueRetry(ctx, rec, err)
		metrics.ObserveRetry("failed")
		return &Result{SubmissionID: id, Status: StatusUnresolved, FormType: rec.FormType}, err
	}
}

// Apply persists an extraction and resolves its references in dependency
// order: metadata and sample ids, then artifacts, then changes.
func (s *Service) Apply(ctx context.Context, ex *Extraction) (*Result, error) {
	s.checkTaxonomy(ex)
	if err := s.store.EnsureMetadata(ctx, ex.Metadata); err != nil {
		return nil, fmt.Errorf("persisting metadata: %w", err)
	}

	samples, err := s.store.EnsureSampleIDs(ctx, ex.SampleIDs)
	if err != nil {
		return nil, fmt.Errorf("persisting sample ids: %w", err)
	}

	artifacts, err := ResolveSampleRefs(ex.Artifacts, samples)
	if err != nil {
		return nil, err
	}
	persisted, err := s.store.EnsureArtifacts(ctx, artifacts)
	if err != nil {
		return nil, fmt.Errorf("persisting artifacts: %w", err)
	}

	sampleIDs := make([]string, 0, len(samples))
	for _, sample := range samples {
		sampleIDs = append(sampleIDs, sample.UUID)
	}
	known, err := s.store.ArtifactsForSamples(ctx, sampleIDs)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}

	changes, err := ResolveArtifactRefs(ex.Changes, samples, known)
	if err != nil {
		return nil, err
	}
	created, err := s.store.CreateChanges(ctx, changes)
	if err != nil {
		return nil, fmt.Errorf("creating changes: %w", err)
	}

	return &Result{
		Status:    StatusProcessed,
		FormType:  ex.Form.Type.String(),
		SampleIDs: samples,
		Artifacts: persisted,
		Changes:   created,
	}, nil
}

func (s *Service) Status(ctx context.Context, id string) (*SubmissionRecord, error) {
	return s.submissions.Get(ctx, id)
}

func (s *Service) Cleanup(ctx context.Context) error {
	return s.submissions.CleanupExpired(ctx, s.logTTL)
}

func (s *Service) process(ctx context.Context, rec *SubmissionRecord, form Form) (*Result, error) {
	start := time.Now()
	ex, err := s.transformer.TransformForm(ctx, form)
	if err != nil {
		return nil, err
	}
	res, err := s.Apply(ctx, ex)
	if err != nil {
		return nil, err
	}
	res.SubmissionID = rec.ID
	metrics.ObserveProcessing(res.FormType, time.Since(start))
	metrics.ObserveChanges(res.FormType, len(res.Changes))

	changeIDs := make([]string, 0, len(res.Changes))
	for _, c := range res.Changes {
		changeIDs = append(changeIDs, c.UUID)
	}
	summary := map[string]interface{}{
		"sample_ids": len(res.SampleIDs),
		"artifacts":  len(res.Artifacts),
		"changes":    changeIDs,
	}
	if err := s.submissions.Complete(ctx, rec.ID, res.FormType, summary); err != nil {
		logger.ForSubmission(rec.ID, res.FormType).WithError(err).Error("failed to record submission result")
	}

	s.publish(ctx, s.events, EventChangesCreated, map[string]interface{}{
		"submission_id": rec.ID,
		"form_type":     res.FormType,
		"instance_id":   rec.InstanceID,
		"changes":       changeIDs,
	})
	logger.ForSubmission(rec.ID, res.FormType).WithField("changes", len(changeIDs)).Info("submission processed")
	return res, nil
}

func (s *Service) classify(format string, raw []byte) (Form, error) {
	var (
		doc odk.Document
		err error
	)
	switch format {
	case FormatJSON:
		doc, err = odk.ParseJSONRecord(raw)
	default:
		doc, err = odk.ParseXML(bytes.NewReader(raw))
	}
	if err != nil {
		return Form{}, fmt.Errorf("%w: %v", ErrMalformedSubmission, err)
	}
	return Classify(doc)
}

func (s *Service) queueRetry(ctx context.Context, rec *SubmissionRecord, cause error) {
	log := logger.ForSubmission(rec.ID, rec.FormType)
	log.WithError(cause).Warn("submission has unresolved references, queued for retry")
	s.setStatus(ctx, rec, StatusUnresolved, cause.Error())
	metrics.ObserveSubmission(rec.Source, StatusUnresolved)

	s.publish(ctx, s.retry, EventSubmissionUnresolved, map[string]interface{}{
		"submission_id": rec.ID,
		"form_type":     rec.FormType,
		"attempt":       rec.RetryCount,
		"not_before":    time.Now().UTC().Add(s.retryDelay).Format(time.RFC3339),
		"error":         cause.Error(),
	})
}

func (s *Service) reject(ctx context.Context, rec *SubmissionRecord, cause error) {
	logger.ForSubmission(rec.ID, rec.FormType).WithError(cause).Warn("submission rejected")
	s.setStatus(ctx, rec, StatusRejected, cause.Error())
	metrics.ObserveSubmission(rec.Source, StatusRejected)

	s.publish(ctx, s.dlq, EventSubmissionRejected, map[string]interface{}{
		"submission_id": rec.ID,
		"source":        rec.Source,
		"form_type":     rec.FormType,
		"error":         cause.Error(),
	})
}

func (s *Service) setStatus(ctx context.Context, rec *SubmissionRecord, status, message string) {
	if err := s.submissions.UpdateStatus(ctx, rec.ID, status, message); err != nil {
		logger.ForSubmission(rec.ID, rec.FormType).WithError(err).WithField("status", status).Warn("failed to record submission status")
	}
}

// duplicateOf claims rec's dedup key. Without redis, or when redis is down,
// it falls back to the submission log.
func (s *Service) duplicateOf(ctx context.Context, rec *SubmissionRecord) (string, bool) {
	if s.dedup != nil {
		owner, claimed, err := s.dedup.Claim(ctx, rec.DedupKey, rec.ID)
		if err == nil {
			return owner, !claimed
		}
		logger.ForSubmission(rec.ID, rec.FormType).WithError(err).Warn("dedup store unavailable, checking submission log")
	}
	prev, err := s.submissions.FindProcessed(ctx, rec.DedupKey)
	if err != nil {
		return "", false
	}
	return prev.ID, prev.ID != rec.ID
}

func (s *Service) releaseDedup(ctx context.Context, rec *SubmissionRecord) {
	if s.dedup == nil || rec.DedupKey == "" {
		return
	}
	if err := s.dedup.Release(ctx, rec.DedupKey); err != nil {
		logger.ForSubmission(rec.ID, rec.FormType).WithError(err).Warn("failed to release dedup key")
	}
}

func (s *Service) archiveRaw(ctx context.Context, rec *SubmissionRecord, raw []byte) {
	if s.archive == nil {
		return
	}
	contentType := "text/xml"
	if rec.Format == FormatJSON {
		contentType = "application/json"
	}
	key := archive.Key(rec.Source, rec.ID, rec.Format, rec.CreatedAt)
	if err := s.archive.Put(ctx, key, raw, contentType); err != nil {
		logger.ForSubmission(rec.ID, "").WithError(err).Warn("failed to archive raw submission")
		return
	}
	rec.ArchiveKey = key
	if err := s.submissions.SetArchiveKey(ctx, rec.ID, key); err != nil {
		logger.ForSubmission(rec.ID, "").WithError(err).Warn("failed to record archive key")
	}
}

func (s *Service) checkTaxonomy(ex *Extraction) {
	if s.taxonomy == nil {
		return
	}
	for _, m := range ex.Metadata {
		switch m.Key {
		case MetaStatus, MetaArtifact:
			if !s.taxonomy.Known(m.Key, m.Value) {
				logger.WithFields(map[string]interface{}{
					"kind":  m.Key,
					"value": m.Value,
				}).Warn("unregistered taxonomy value")
			}
		}
	}
}

func (s *Service) publish(ctx context.Context, p Publisher, eventType string, data map[string]interface{}) {
	if p == nil {
		return
	}
	if err := p.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Error("failed to publish event")
	}
}
