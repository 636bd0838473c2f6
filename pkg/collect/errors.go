package collect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/synaptica-ai/specimen-tracking/pkg/odk"
)

// ErrMalformedSubmission wraps body decoding failures.
var ErrMalformedSubmission = errors.New("malformed submission")

// ClassificationError is returned when a submission does not name exactly one
// known form.
type ClassificationError struct {
	Keys    []string
	Matches []FormType
}

func (e *ClassificationError) Error() string {
	if len(e.Matches) > 1 {
		names := make([]string, 0, len(e.Matches))
		for _, m := range e.Matches {
			names = append(names, m.Tag())
		}
		return fmt.Sprintf("ambiguous form type %s among top elements: %s",
			strings.Join(names, ","), strings.Join(e.Keys, ", "))
	}
	return fmt.Sprintf("cannot identify form type among top elements: %s", strings.Join(e.Keys, ", "))
}

// PreconditionError means resolution ran against rows storage has not yet
// assigned identifiers to.
type PreconditionError struct {
	Collection string
	Index      int
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("missing required %s uuid at index %d", e.Collection, e.Index)
}

// UnresolvedReferenceError names a natural key with no persisted row.
type UnresolvedReferenceError struct {
	Kind         string // "sample" or "artifact"
	StID         string
	ArtifactType string
}

func (e *UnresolvedReferenceError) Error() string {
	if e.Kind == refArtifact {
		return fmt.Sprintf("unresolved artifact reference stId=%q artifactType=%q", e.StID, e.ArtifactType)
	}
	return fmt.Sprintf("unresolved sample reference stId=%q", e.StID)
}

const (
	refSample   = "sample"
	refArtifact = "artifact"
)

func IsClassificationError(err error) bool {
	var ce *ClassificationError
	return errors.As(err, &ce)
}

func IsPreconditionError(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

func IsUnresolved(err error) bool {
	var ue *UnresolvedReferenceError
	return errors.As(err, &ue)
}

// IsRejection reports errors that no amount of retrying will fix.
func IsRejection(err error) bool {
	return IsClassificationError(err) || odk.IsPathTypeError(err) || errors.Is(err, ErrMalformedSubmission)
}
