package collect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/specimen-tracking/pkg/archive"
	"github.com/synaptica-ai/specimen-tracking/pkg/common/models"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType, source string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, models.Event{Type: eventType, Source: source, Data: data})
	return nil
}

func (p *recordingPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

type testEnv struct {
	db      *gorm.DB
	svc     *Service
	repo    *Repository
	subs    *SubmissionRepository
	archive *archive.Memory
	events  *recordingPublisher
	retry   *recordingPublisher
	dlq     *recordingPublisher
}

func newTestEnv(t *testing.T, dedup Deduper, maxRetries int) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:      db,
		repo:    NewRepository(db),
		subs:    NewSubmissionRepository(db),
		archive: archive.NewMemory(),
		events:  &recordingPublisher{},
		retry:   &recordingPublisher{},
		dlq:     &recordingPublisher{},
	}
	env.svc = NewService(ServiceDeps{
		Store:       env.repo,
		Submissions: env.subs,
		Dedup:       dedup,
		Archive:     env.archive,
		Events:      env.events,
		Retry:       env.retry,
		DLQ:         env.dlq,
		MaxRetries:  maxRetries,
	})
	return env
}

func (e *testEnv) countChanges(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&ChangeRecord{}).Count(&n).Error)
	return n
}

func departureXML(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile("testdata/sdepart.xml")
	require.NoError(t, err)
	return raw
}

// arrivalXML builds a sample arrival form; each repeat is (stId, artifact type).
func arrivalXML(instanceID string, repeats ...[2]string) []byte {
	var b strings.Builder
	b.WriteString(`<sarrive id="sarrive"><end>2016-01-02T08:00:00.000Z</end><person>asmith</person><facility>lab1</facility>`)
	for _, r := range repeats {
		fmt.Fprintf(&b, `<srepeat><stid>%s</stid><stype>%s</stype></srepeat>`, r[0], r[1])
	}
	fmt.Fprintf(&b, `<meta><instanceID>%s</instanceID></meta></sarrive>`, instanceID)
	return []byte(b.String())
}

func TestSubmitDeparture(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, 0)

	res, err := env.svc.Submit(ctx, Submission{Source: SourceCollect, Format: FormatXML, Raw: departureXML(t)})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, "sample-departure", res.FormType)
	require.Len(t, res.SampleIDs, 2)
	require.Len(t, res.Artifacts, 2)
	require.Len(t, res.Changes, 2)

	artifactIDs := map[string]string{}
	for _, a := range res.Artifacts {
		artifactIDs[a.ArtifactType] = a.UUID
	}
	assert.Equal(t, artifactIDs["BLOOD"], res.Changes[0].Artifact)
	assert.Equal(t, artifactIDs["SERUM"], res.Changes[1].Artifact)
	assert.Equal(t, "OK", res.Changes[0].Status)
	assert.Equal(t, "DAMAGED", res.Changes[1].Status)
	assert.Equal(t, "JDOE", res.Changes[0].Person)
	assert.Equal(t, "CLINICA", res.Changes[0].Facility)

	rec, err := env.svc.Status(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, rec.Status)
	assert.Equal(t, "uuid:7b5e2d1c-3f4a-4c8e-9d61-0a2b3c4d5e6f", rec.InstanceID)
	assert.Equal(t, "sdepart:uuid:7b5e2d1c-3f4a-4c8e-9d61-0a2b3c4d5e6f", rec.DedupKey)
	require.NotEmpty(t, rec.ArchiveKey)
	archived, ok := env.archive.Get(rec.ArchiveKey)
	require.True(t, ok)
	assert.Equal(t, departureXML(t), archived)

	events := env.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventChangesCreated, events[0].Type)
	assert.Equal(t, res.SubmissionID, events[0].Data["submission_id"])

	facilities, err := env.repo.ListMetadata(ctx, MetaFacility)
	require.NoError(t, err)
	require.Len(t, facilities, 1)
	assert.Equal(t, "clinicA", facilities[0].Value)

	artifacts, err := env.repo.ListMetadata(ctx, MetaArtifact)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
}

func TestSubmitDuplicateClaimedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	env := newTestEnv(t, NewRedisDeduper(client, 0), 0)

	first, err := env.svc.Submit(ctx, Submission{Source: SourceCollect, Format: FormatXML, Raw: departureXML(t)})
	require.NoError(t, err)

	second, err := env.svc.Submit(ctx, Submission{Source: SourceCollect, Format: FormatXML, Raw: departureXML(t)})
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, first.SubmissionID, second.DuplicateOf)
	assert.EqualValues(t, 2, env.countChanges(t))

	rec, err := env.svc.Status(ctx, second.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, rec.Status)
}

func TestSubmitDuplicateFromSubmissionLog(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, 0)

	first, err := env.svc.Submit(ctx, Submission{Source: SourceCollect, Format: FormatXML, Raw: departureXML(t)})
	require.NoError(t, err)
	second, err := env.svc.Submit(ctx, Submission{Source: SourceCollect, Format: FormatXML, Raw: departureXML(t)})
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, first.SubmissionID, second.DuplicateOf)
	assert.EqualValues(t, 2, env.countChanges(t))
}

func TestSubmitRejectsUnknownForm(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, 0)

	_, err := env.svc.Submit(ctx, Submission{Source: SourceCollect, Format: FormatXML, Raw: []byte(`<labreport><a>1</a></labreport>`)})
	require.Error(t, err)
	assert.True(t, IsClassificationError(err))
	assert.True(t, IsRejection(err))

	recs, err := env.subs.ListByStatus(ctx, StatusRejected, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Error, "labreport")

	dlq := env.dlq.Events()
	require.Len(t, dlq, 1)
	assert.Equal(t, EventSubmissionRejected, dlq[0].Type)
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	_, err := env.svc.Submit(context.Background(), Submission{Source: SourceCollect, Format: FormatXML, Raw: []byte(`<sdepart><end>`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedSubmission)
	assert.True(t, IsRejection(err))

	_, err = env.svc.Submit(context.Background(), Submission{Source: SourcePublisher, Format: FormatJSON, Raw: []byte(`{`)})
	assert.ErrorIs(t, err, ErrMalformedSubmission)
}

func TestSubmitUnresolvedThenReprocess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, 5)

	// Both repeats share an artifact type, so the second sample has no
	// artifact of its own yet.
	res, err := env.svc.Submit(ctx, Submission{
		Source: SourceCollect,
		Format: FormatXML,
		Raw:    arrivalXML("uuid:arrival-1", [2]string{"B1", "blood"}, [2]string{"B2", "blood"}),
	})
	require.Error(t, err)
	assert.True(t, IsUnresolved(err))
	require.NotNil(t, res)
	assert.Equal(t, StatusUnresolved, res.Status)
	assert.EqualValues(t, 0, env.countChanges(t))

	retries := env.retry.Events()
	require.Len(t, retries, 1)
	assert.Equal(t, EventSubmissionUnresolved, retries[0].Type)
	assert.Equal(t, res.SubmissionID, retries[0].Data["submission_id"])
	assert.NotEmpty(t, retries[0].Data["not_before"])

	_, err = env.svc.Submit(ctx, Submission{
		Source: SourceCollect,
		Format: FormatXML,
		Raw:    arrivalXML("uuid:arrival-2", [2]string{"B2", "blood"}),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, env.countChanges(t))

	again, err := env.svc.Reprocess(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, again.Status)
	assert.Len(t, again.Changes, 2)
	assert.EqualValues(t, 3, env.countChanges(t))

	rec, err := env.svc.Status(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)

	settled, err := env.svc.Reprocess(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, settled.Status)
	assert.EqualValues(t, 3, env.countChanges(t))
}

func TestReprocessGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, 1)

	res, err := env.svc.Submit(ctx, Submission{
		Source: SourceCollect,
		Format: FormatXML,
		Raw:    arrivalXML("uuid:arrival-3", [2]string{"C1", "serum"}, [2]string{"C2", "serum"}),
	})
	require.True(t, IsUnresolved(err))

	_, err = env.svc.Reprocess(ctx, res.SubmissionID)
	require.Error(t, err)
	assert.True(t, IsUnresolved(err))

	rec, err := env.svc.Status(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rec.Status)
	assert.Contains(t, rec.Error, "retries exhausted")
	require.Len(t, env.dlq.Events(), 1)
	assert.Len(t, env.retry.Events(), 1)
}

func TestReprocessUnknownSubmission(t *testing.T) {
	env := newTestEnv(t, nil, 0)
	_, err := env.svc.Reprocess(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type flakyStore struct {
	Store
	failures int
}

func (f *flakyStore) CreateChanges(ctx context.Context, changes []models.Change) ([]models.Change, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("database is locked")
	}
	return f.Store.CreateChanges(ctx, changes)
}

func TestReprocessStorageFailureRequeues(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, 5)

	res, err := env.svc.Submit(ctx, Submission{
		Source: SourceCollect,
		Format: FormatXML,
		Raw:    arrivalXML("uuid:arrival-4", [2]string{"D1", "blood"}, [2]string{"D2", "blood"}),
	})
	require.True(t, IsUnresolved(err))
	_, err = env.svc.Submit(ctx, Submission{
		Source: SourceCollect,
		Format: FormatXML,
		Raw:    arrivalXML("uuid:arrival-5", [2]string{"D2", "blood"}),
	})
	require.NoError(t, err)

	flaky := NewService(ServiceDeps{
		Store:       &flakyStore{Store: env.repo, failures: 1},
		Submissions: env.subs,
		Retry:       env.retry,
		DLQ:         env.dlq,
		MaxRetries:  5,
	})
	again, err := flaky.Reprocess(ctx, res.SubmissionID)
	require.Error(t, err)
	assert.False(t, IsUnresolved(err))
	require.NotNil(t, again)
	assert.Equal(t, StatusUnresolved, again.Status)

	retries := env.retry.Events()
	require.Len(t, retries, 2)
	assert.Equal(t, EventSubmissionUnresolved, retries[1].Type)
	assert.Equal(t, res.SubmissionID, retries[1].Data["submission_id"])
	assert.Equal(t, 1, retries[1].Data["attempt"])

	rec, err := env.svc.Status(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusUnresolved, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Contains(t, rec.Error, "database is locked")
	assert.Empty(t, env.dlq.Events())

	done, err := flaky.Reprocess(ctx, res.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, done.Status)
}

type staticTaxonomy map[string]bool

func (s staticTaxonomy) Known(kind, value string) bool {
	return s[kind+"/"+strings.ToUpper(value)]
}

func TestApplyWithTaxonomyStillPersists(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewService(ServiceDeps{
		Store:       NewRepository(db),
		Submissions: NewSubmissionRepository(db),
		Taxonomy:    staticTaxonomy{"artifact/BLOOD": true},
	})

	ex, err := NewTransformer().TransformForm(ctx, loadDeparture(t))
	require.NoError(t, err)
	res, err := svc.Apply(ctx, ex)
	require.NoError(t, err)
	assert.Len(t, res.Changes, 2)
}
