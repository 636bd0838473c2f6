package collect

import (
	"context"

	"github.com/synaptica-ai/specimen-tracking/pkg/common/models"
	"github.com/synaptica-ai/specimen-tracking/pkg/odk"
	"golang.org/x/sync/errgroup"
)

// Extraction holds everything read from one classified submission, before
// any reference is resolved.
type Extraction struct {
	Form      Form
	SampleIDs []models.SampleID
	Metadata  []models.MetadataEntry
	Artifacts []models.ArtifactRequest
	Changes   []models.ChangeRequest
}

type Transformer struct {
	artifactKey ArtifactKey
}

type TransformerOption func(*Transformer)

func WithArtifactKey(k ArtifactKey) TransformerOption {
	return func(t *Transformer) { t.artifactKey = k }
}

func NewTransformer(opts ...TransformerOption) *Transformer {
	t := &Transformer{artifactKey: ArtifactKeyType}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Transform classifies doc and runs the four extractors concurrently. The
// first extractor error is returned.
func (t *Transformer) Transform(ctx context.Context, doc odk.Document) (*Extraction, error) {
	form, err := Classify(doc)
	if err != nil {
		return nil, err
	}
	return t.TransformForm(ctx, form)
}

// TransformForm runs the extractors on an already classified form.
func (t *Transformer) TransformForm(ctx context.Context, form Form) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ex := &Extraction{Form: form}
	var g errgroup.Group
	g.Go(func() error {
		ids, err := SampleIDs(form)
		ex.SampleIDs = ids
		return err
	})
	g.Go(func() error {
		meta, err := Metadata(form)
		ex.Metadata = meta
		return err
	})
	g.Go(func() error {
		arts, err := artifacts(form, t.artifactKey)
		ex.Artifacts = arts
		return err
	})
	g.Go(func() error {
		changes, err := Changes(form)
		ex.Changes = changes
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ex, nil
}
