package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// SavedFilters is the filters.yaml document: named scene filter
// expressions reusable across sync commands.
type SavedFilters struct {
	Filters map[string]string `yaml:"filters"`
}

// LoadFilters reads a saved-filter file. A missing file returns an
// empty set, not an error.
func LoadFilters(path string) (*SavedFilters, error) {
	f := &SavedFilters{Filters: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if f.Filters == nil {
		f.Filters = make(map[string]string)
	}
	return f, nil
}

// Save writes the filter set atomically.
func (f *SavedFilters) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create filter directory: %w", err)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Get looks up a saved expression by name.
func (f *SavedFilters) Get(name string) (string, bool) {
	expr, ok := f.Filters[name]
	return expr, ok
}

// Set adds or replaces a saved expression.
func (f *SavedFilters) Set(name, expr string) {
	f.Filters[name] = expr
}

// Remove deletes a saved expression, reporting whether it existed.
func (f *SavedFilters) Remove(name string) bool {
	if _, ok := f.Filters[name]; !ok {
		return false
	}
	delete(f.Filters, name)
	return true
}

// Names returns the saved filter names sorted.
func (f *SavedFilters) Names() []string {
	names := make([]string, 0, len(f.Filters))
	for name := range f.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
