package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader reads and validates the YAML configuration file at Path.
type Loader struct {
	Path string
}

// NewLoader builds a Loader for path.
func NewLoader(path string) *Loader {
	return &Loader{Path: path}
}

// Load reads the file, parses it, and validates it into a Snapshot.
func (l *Loader) Load() (*Snapshot, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", l.Path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", l.Path, err)
	}

	snap, err := newSnapshot(f)
	if err != nil {
		return nil, err
	}
	return snap, nil
}
