// Package config loads the proxy's YAML configuration into an immutable
// Snapshot and, via Watcher, keeps that snapshot current as the file changes
// on disk.
package config

import (
	"fmt"
	"strings"

	"github.com/abdhe/keyrelay/pkg/upstream"
)

// ProviderConfig is one entry from the providers list in the YAML file.
type ProviderConfig struct {
	Name         string   `yaml:"name"`
	Flavor       string   `yaml:"flavor"`
	Keys         []string `yaml:"keys"`
	BaseURL      string   `yaml:"base_url"`
	AccessKey    string   `yaml:"access_key"`
	DefaultModel string   `yaml:"default_model"`
}

// file is the root shape of the YAML document, kept unexported since callers
// only ever see the validated Snapshot.
type file struct {
	Port               int              `yaml:"port"`
	AdminPasswordHash  string           `yaml:"admin_password_hash"`
	Providers          []ProviderConfig `yaml:"providers"`
}

// Snapshot is an immutable view of the loaded configuration. A new Snapshot
// is produced on every successful reload; nothing mutates one in place.
type Snapshot struct {
	Port              int
	AdminPasswordHash string
	providers         map[string]ProviderConfig
	order             []string
}

// Provider looks up a provider by name, case-insensitively.
func (s *Snapshot) Provider(name string) (ProviderConfig, bool) {
	p, ok := s.providers[strings.ToLower(name)]
	return p, ok
}

// HasProvider implements route.ProviderLookup.
func (s *Snapshot) HasProvider(name string) bool {
	_, ok := s.providers[strings.ToLower(name)]
	return ok
}

// ProviderNames returns configured provider names in declaration order.
func (s *Snapshot) ProviderNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func newSnapshot(f file) (*Snapshot, error) {
	s := &Snapshot{
		Port:              f.Port,
		AdminPasswordHash: f.AdminPasswordHash,
		providers:         make(map[string]ProviderConfig, len(f.Providers)),
		order:             make([]string, 0, len(f.Providers)),
	}

	for i, p := range f.Providers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return nil, fmt.Errorf("config: providers[%d]: name is required", i)
		}
		if _, dup := s.providers[name]; dup {
			return nil, fmt.Errorf("config: providers[%d]: duplicate provider name %q", i, name)
		}
		if len(p.Keys) == 0 {
			return nil, fmt.Errorf("config: provider %q: at least one key is required", name)
		}
		switch upstream.Flavor(strings.ToLower(p.Flavor)) {
		case upstream.FlavorOpenAI, upstream.FlavorGemini:
		default:
			return nil, fmt.Errorf("config: provider %q: unknown flavor %q", name, p.Flavor)
		}
		if !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
			return nil, fmt.Errorf("config: provider %q: base_url must be absolute, got %q", name, p.BaseURL)
		}

		p.Name = name
		s.providers[name] = p
		s.order = append(s.order, name)
	}

	if f.Port <= 0 || f.Port > 65535 {
		return nil, fmt.Errorf("config: port %d out of range", f.Port)
	}

	return s, nil
}
