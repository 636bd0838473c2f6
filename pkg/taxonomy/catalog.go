package taxonomy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/synaptica-ai/specimen-tracking/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// Catalog lists the known taxonomy values per kind (facility, person, region,
// status, artifact, stage, rejection). Keys are matched case-insensitively.
type Catalog struct {
	Kinds map[string]map[string]string `yaml:"kinds" json:"kinds"`
}

func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parsing taxonomy %s: %w", path, err)
	}
	if len(cat.Kinds) == 0 {
		return Catalog{}, fmt.Errorf("taxonomy catalog empty")
	}
	normalised := make(map[string]map[string]string, len(cat.Kinds))
	for kind, values := range cat.Kinds {
		out := make(map[string]string, len(values))
		for key, display := range values {
			out[strings.ToUpper(key)] = display
		}
		normalised[strings.ToLower(kind)] = out
	}
	cat.Kinds = normalised
	return cat, nil
}

// Known reports whether value is a registered key of kind.
func (c Catalog) Known(kind, value string) bool {
	values, ok := c.Kinds[strings.ToLower(kind)]
	if !ok {
		return false
	}
	_, ok = values[strings.ToUpper(value)]
	return ok
}

// Display returns the human readable name of a key.
func (c Catalog) Display(kind, value string) (string, bool) {
	values, ok := c.Kinds[strings.ToLower(kind)]
	if !ok {
		return "", false
	}
	display, ok := values[strings.ToUpper(value)]
	return display, ok
}

// Entries flattens the catalog into metadata entries, sorted by kind and key.
func (c Catalog) Entries() []models.MetadataEntry {
	kinds := make([]string, 0, len(c.Kinds))
	for k := range c.Kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var out []models.MetadataEntry
	for _, kind := range kinds {
		keys := make([]string, 0, len(c.Kinds[kind]))
		for k := range c.Kinds[kind] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, models.MetadataEntry{Key: kind, Value: k})
		}
	}
	return out
}

func DefaultCatalog() Catalog {
	return Catalog{Kinds: map[string]map[string]string{
		"stage": {
			"SAMPLE-DEPARTURE":  "Sample departure",
			"SAMPLE-ARRIVAL":    "Sample arrival",
			"RESULTS-DEPARTURE": "Results departure",
			"RESULTS-ARRIVAL":   "Results arrival",
		},
		"status": {
			"OK":      "OK",
			"DAMAGED": "Damaged",
			"LOST":    "Lost",
		},
		"artifact": {
			"BLOOD":  "Blood",
			"SERUM":  "Serum",
			"SPUTUM": "Sputum",
			"URINE":  "Urine",
		},
		"rejection": {
			"INSUFFICIENT": "Insufficient volume",
			"HEMOLYZED":    "Hemolyzed",
			"UNLABELED":    "Unlabeled",
		},
	}}
}
