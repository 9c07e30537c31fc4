// Package filters loads the manifest of named filter expressions the
// daemon keeps synced alongside the main delta pull.
package filters

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Filter is one named remote filter query.
type Filter struct {
	// Name labels the filter in status output.
	Name string `yaml:"name"`
	// Query is the expression sent to the remote filter endpoint,
	// e.g. "today | overdue".
	Query string `yaml:"query"`
}

type manifest struct {
	Filters []Filter `yaml:"filters"`
}

// Load reads the filter manifest at path. A missing file yields no
// filters and no error; filter syncing is opt-in. Entries without a
// query are skipped, and a nameless entry takes its query as name.
func Load(path string) ([]Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read filter manifest %s: %w", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse filter manifest %s: %w", path, err)
	}

	out := make([]Filter, 0, len(m.Filters))
	for _, f := range m.Filters {
		f.Query = strings.TrimSpace(f.Query)
		if f.Query == "" {
			continue
		}
		if f.Name == "" {
			f.Name = f.Query
		}
		out = append(out, f)
	}
	return out, nil
}
