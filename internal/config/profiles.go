package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// Profile is one named connection target.
type Profile struct {
	Target           string `toml:"target"`
	APIKey           string `toml:"api_key,omitempty"`
	MinServerVersion string `toml:"min_server_version,omitempty"`
}

// Profiles is the profiles.toml document: named connection targets plus
// the one commands use when none is named.
type Profiles struct {
	Default string             `toml:"default,omitempty"`
	ByName  map[string]Profile `toml:"profiles"`
}

// LoadProfiles reads a profiles file. A missing file returns an empty
// set, not an error.
func LoadProfiles(path string) (*Profiles, error) {
	p := &Profiles{ByName: make(map[string]Profile)}
	if _, err := toml.DecodeFile(path, p); err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if p.ByName == nil {
		p.ByName = make(map[string]Profile)
	}
	return p, nil
}

// Save writes the profile set atomically.
func (p *Profiles) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if err := toml.NewEncoder(f).Encode(p); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Resolve returns the named profile, falling back to the default when
// name is empty. The resolved name comes back alongside the profile.
func (p *Profiles) Resolve(name string) (Profile, string, error) {
	if name == "" {
		name = p.Default
	}
	if name == "" {
		return Profile{}, "", fmt.Errorf("no profile named and no default set")
	}
	prof, ok := p.ByName[name]
	if !ok {
		return Profile{}, "", fmt.Errorf("unknown profile %q", name)
	}
	return prof, name, nil
}

// Set adds or replaces a profile. The first profile added becomes the
// default.
func (p *Profiles) Set(name string, prof Profile) {
	p.ByName[name] = prof
	if p.Default == "" {
		p.Default = name
	}
}

// Remove deletes a profile, reporting whether it existed. Removing the
// default clears the default.
func (p *Profiles) Remove(name string) bool {
	if _, ok := p.ByName[name]; !ok {
		return false
	}
	delete(p.ByName, name)
	if p.Default == name {
		p.Default = ""
	}
	return true
}

// Names returns the profile names sorted.
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.ByName))
	for name := range p.ByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
