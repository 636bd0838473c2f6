package collect

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/synaptica-ai/specimen-tracking/pkg/common/models"
	"github.com/synaptica-ai/specimen-tracking/pkg/odk"
)

// Classify finds the single known form among the document's top elements.
func Classify(doc odk.Document) (Form, error) {
	var matches []FormType
	for _, f := range FormTypes {
		if _, ok := doc[f.Tag()]; ok {
			matches = append(matches, f)
		}
	}
	if len(matches) != 1 {
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Form{}, &ClassificationError{Keys: keys, Matches: matches}
	}

	f := matches[0]
	el, ok, err := odk.ElementAt(doc, odk.Path{f.Tag()})
	if err != nil {
		return Form{}, err
	}
	if !ok {
		el = odk.Document{}
	}
	return Form{Type: f, Element: el}, nil
}

// Repeats returns the form's repeat group entries in document order.
func Repeats(form Form) ([]odk.Document, error) {
	return odk.SequenceAt(form.Element, repeatPath)
}

// SampleIDs returns one (stId, labId) pair per distinct stId, first seen wins.
// Entries without an stId are kept once.
func SampleIDs(form Form) ([]models.SampleID, error) {
	repeats, err := Repeats(form)
	if err != nil {
		return nil, err
	}

	out := make([]models.SampleID, 0, len(repeats))
	seen := make(map[string]struct{}, len(repeats))
	for _, r := range repeats {
		st, err := stID(r)
		if err != nil {
			return nil, err
		}
		lab, err := labID(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[st.Value]; dup {
			continue
		}
		seen[st.Value] = struct{}{}
		out = append(out, models.SampleID{StID: st.Value, LabID: lab.Value})
	}
	return out, nil
}

// Metadata returns the taxonomy values a submission mentions, one per key.
func Metadata(form Form) ([]models.MetadataEntry, error) {
	repeats, err := Repeats(form)
	if err != nil {
		return nil, err
	}

	type field struct {
		key  string
		read func(odk.Document) (odk.Text, error)
	}
	var candidates []models.MetadataEntry
	collectFields := func(doc odk.Document, fields ...field) error {
		for _, f := range fields {
			v, err := f.read(doc)
			if err != nil {
				return err
			}
			if v.Present {
				candidates = append(candidates, models.MetadataEntry{Key: f.key, Value: v.Value})
			}
		}
		return nil
	}

	if err := collectFields(form.Element,
		field{MetaFacility, facility},
		field{MetaPerson, person},
		field{MetaRegion, region},
	); err != nil {
		return nil, err
	}
	for _, r := range repeats {
		if err := collectFields(r, field{MetaStatus, status}); err != nil {
			return nil, err
		}
	}
	for _, r := range repeats {
		if err := collectFields(r, field{MetaArtifact, artifact}); err != nil {
			return nil, err
		}
	}

	out := make([]models.MetadataEntry, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, m := range candidates {
		// Registered metadata is keyed by kind and uppercased value.
		k := m.Key + "\x00" + strings.ToUpper(m.Value)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

// ArtifactKey selects how artifacts in one submission are deduplicated.
type ArtifactKey int

const (
	// ArtifactKeyType keeps one artifact per artifact type.
	ArtifactKeyType ArtifactKey = iota
	// ArtifactKeySample keeps one artifact per (stId, artifact type).
	ArtifactKeySample
)

func ParseArtifactKey(s string) (ArtifactKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "type":
		return ArtifactKeyType, nil
	case "sample":
		return ArtifactKeySample, nil
	}
	return 0, fmt.Errorf("unknown artifact dedup key %q", s)
}

// Artifacts returns one artifact request per distinct uppercase artifact type.
func Artifacts(form Form) ([]models.ArtifactRequest, error) {
	return artifacts(form, ArtifactKeyType)
}

// ArtifactsPerSample returns one artifact request per (stId, artifact type).
func ArtifactsPerSample(form Form) ([]models.ArtifactRequest, error) {
	return artifacts(form, ArtifactKeySample)
}

func artifacts(form Form, key ArtifactKey) ([]models.ArtifactRequest, error) {
	repeats, err := Repeats(form)
	if err != nil {
		return nil, err
	}

	out := make([]models.ArtifactRequest, 0, len(repeats))
	seen := make(map[string]struct{}, len(repeats))
	for _, r := range repeats {
		st, err := stID(r)
		if err != nil {
			return nil, err
		}
		lab, err := labID(r)
		if err != nil {
			return nil, err
		}
		a, err := artifact(r)
		if err != nil {
			return nil, err
		}
		req := models.ArtifactRequest{StID: st.Value, LabID: lab.Value, ArtifactType: a.Upper().Value}

		k := req.ArtifactType
		if key == ArtifactKeySample {
			k = req.StID + "\x00" + req.ArtifactType
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, req)
	}
	return out, nil
}

// Changes returns exactly one change request per repeat entry.
func Changes(form Form) ([]models.ChangeRequest, error) {
	repeats, err := Repeats(form)
	if err != nil {
		return nil, err
	}

	end, err := endDate(form.Element)
	if err != nil {
		return nil, err
	}
	statusDate, err := parseStatusDate(end)
	if err != nil {
		return nil, err
	}
	per, err := person(form.Element)
	if err != nil {
		return nil, err
	}
	reg, err := region(form.Element)
	if err != nil {
		return nil, err
	}
	fac, err := facility(form.Element)
	if err != nil {
		return nil, err
	}

	out := make([]models.ChangeRequest, 0, len(repeats))
	for _, r := range repeats {
		st, err := stID(r)
		if err != nil {
			return nil, err
		}
		lab, err := labID(r)
		if err != nil {
			return nil, err
		}
		a, err := artifact(r)
		if err != nil {
			return nil, err
		}
		s, err := status(r)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ChangeRequest{
			StID:         st.Value,
			LabID:        lab.Value,
			ArtifactType: a.Upper().Value,
			StatusDate:   statusDate,
			Stage:        form.Type.String(),
			Person:       per.Upper().Value,
			Region:       reg.Upper().Value,
			Facility:     fac.Upper().Value,
			Status:       strings.ToUpper(s.Or(DefaultStatus)),
		})
	}
	return out, nil
}

var statusDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseStatusDate reads ODK timestamps. An absent value is the zero time.
func parseStatusDate(v odk.Text) (time.Time, error) {
	if !v.Present {
		return time.Time{}, nil
	}
	for _, layout := range statusDateLayouts {
		if t, err := time.Parse(layout, v.Value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &odk.PathTypeError{Path: endPath, Want: "timestamp", Found: fmt.Sprintf("%q", v.Value)}
}
