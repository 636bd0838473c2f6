package models

import (
	"time"
)

// Specimen tracking records. Empty strings stand for absent values; surrogate
// UUIDs are only ever assigned by storage.

type SampleID struct {
	UUID  string `json:"uuid,omitempty"`
	StID  string `json:"stId"`
	LabID string `json:"labId,omitempty"`
}

// ArtifactRequest is an artifact before its sample reference is resolved.
type ArtifactRequest struct {
	StID         string `json:"stId"`
	LabID        string `json:"labId,omitempty"`
	ArtifactType string `json:"artifactType"`
}

type Artifact struct {
	UUID         string `json:"uuid,omitempty"`
	SampleID     string `json:"sampleId"`
	ArtifactType string `json:"artifactType"`
}

// ChangeRequest is a change before its artifact reference is resolved.
type ChangeRequest struct {
	StID         string    `json:"stId"`
	LabID        string    `json:"labId,omitempty"`
	ArtifactType string    `json:"artifactType"`
	StatusDate   time.Time `json:"statusDate"`
	Stage        string    `json:"stage"`
	Person       string    `json:"person,omitempty"`
	Region       string    `json:"region,omitempty"`
	Facility     string    `json:"facility,omitempty"`
	Status       string    `json:"status"`
}

type Change struct {
	UUID       string    `json:"uuid,omitempty"`
	StatusDate time.Time `json:"statusDate"`
	Stage      string    `json:"stage"`
	Artifact   string    `json:"artifact,omitempty"`
	LabTest    string    `json:"labTest,omitempty"`
	Person     string    `json:"person,omitempty"`
	Region     string    `json:"region,omitempty"`
	Facility   string    `json:"facility,omitempty"`
	Status     string    `json:"status"`
}

// MetadataEntry is a taxonomy value observed in a submission. Key names the
// taxonomy (facility, person, region, status, artifact).
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // changes_created, submission_unresolved, submission_rejected
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
