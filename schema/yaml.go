package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a set of collections.
type File struct {
	MaxNestingDepth int          `yaml:"maxNestingDepth"`
	Collections     []Collection `yaml:"collections"`
}

// LoadYAML decodes collections from r and builds their registry.
func LoadYAML(r io.Reader) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidSchema, err)
	}
	cfg := DefaultConfig()
	if f.MaxNestingDepth > 0 {
		cfg.MaxNestingDepth = f.MaxNestingDepth
	}
	return NewRegistry(cfg, f.Collections...)
}

// LoadYAMLFile reads a schema file from disk.
func LoadYAMLFile(path string) (*Registry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer fh.Close()
	return LoadYAML(fh)
}
