package collect

import (
	"github.com/synaptica-ai/specimen-tracking/pkg/common/models"
)

type artifactRef struct {
	sampleID     string
	artifactType string
}

func sampleIndex(persisted []models.SampleID) (map[string]string, error) {
	idx := make(map[string]string, len(persisted))
	for i, s := range persisted {
		if s.UUID == "" {
			return nil, &PreconditionError{Collection: "sampleIds", Index: i}
		}
		if s.StID == "" {
			continue
		}
		idx[s.StID] = s.UUID
	}
	return idx, nil
}

func artifactIndex(persisted []models.Artifact) (map[artifactRef]string, error) {
	idx := make(map[artifactRef]string, len(persisted))
	for i, a := range persisted {
		if a.UUID == "" {
			return nil, &PreconditionError{Collection: "artifacts", Index: i}
		}
		idx[artifactRef{sampleID: a.SampleID, artifactType: a.ArtifactType}] = a.UUID
	}
	return idx, nil
}

// ResolveSampleRefs swaps each artifact's (stId, labId) for the persisted
// sample's UUID.
func ResolveSampleRefs(artifacts []models.ArtifactRequest, persisted []models.SampleID) ([]models.Artifact, error) {
	samples, err := sampleIndex(persisted)
	if err != nil {
		return nil, err
	}

	out := make([]models.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		sampleID, ok := samples[a.StID]
		if !ok {
			return nil, &UnresolvedReferenceError{Kind: refSample, StID: a.StID}
		}
		out = append(out, models.Artifact{SampleID: sampleID, ArtifactType: a.ArtifactType})
	}
	return out, nil
}

// ResolveArtifactRefs swaps each change's (stId, labId, artifactType) for the
// persisted artifact's UUID.
func ResolveArtifactRefs(changes []models.ChangeRequest, persistedSamples []models.SampleID, persistedArtifacts []models.Artifact) ([]models.Change, error) {
	samples, err := sampleIndex(persistedSamples)
	if err != nil {
		return nil, err
	}
	artifacts, err := artifactIndex(persistedArtifacts)
	if err != nil {
		return nil, err
	}

	out := make([]models.Change, 0, len(changes))
	for _, c := range changes {
		sampleID, ok := samples[c.StID]
		if !ok {
			return nil, &UnresolvedReferenceError{Kind: refSample, StID: c.StID}
		}
		artifactID, ok := artifacts[artifactRef{sampleID: sampleID, artifactType: c.ArtifactType}]
		if !ok {
			return nil, &UnresolvedReferenceError{Kind: refArtifact, StID: c.StID, ArtifactType: c.ArtifactType}
		}
		out = append(out, models.Change{
			StatusDate: c.StatusDate,
			Stage:      c.Stage,
			Artifact:   artifactID,
			Person:     c.Person,
			Region:     c.Region,
			Facility:   c.Facility,
			Status:     c.Status,
		})
	}
	return out, nil
}
