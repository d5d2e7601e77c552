package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/amadeuslabs/toolproxyd/internal/manager"
)

// FileSource reads desired tool configs from a flat tools file. The
// file is re-read on every fetch so edits are picked up by the next
// refresh without a restart. Format follows the extension: .yaml/.yml
// or .toml.
type FileSource struct {
	path string
}

// NewFileSource creates a source over the given tools file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type toolRecord struct {
	Tool          string            `yaml:"tool" toml:"tool"`
	Version       string            `yaml:"version" toml:"version"`
	Method        string            `yaml:"method" toml:"method"`
	Args          string            `yaml:"args" toml:"args"`
	PreferredPort int               `yaml:"preferred_port" toml:"preferred_port"`
	Env           map[string]string `yaml:"env" toml:"env"`
	RequiredEnv   []string          `yaml:"required_env" toml:"required_env"`
}

type toolsFile struct {
	Tools []toolRecord `yaml:"tools" toml:"tools"`
}

// FetchToolConfigs parses the tools file. A missing or unreadable file
// is an availability error, not an empty desired set.
func (f *FileSource) FetchToolConfigs(ctx context.Context) ([]manager.ToolVersionConfig, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, f.path, err)
	}

	var doc toolsFile
	switch strings.ToLower(filepath.Ext(f.path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("store: parse %s: %w", f.path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("store: parse %s: %w", f.path, err)
		}
	default:
		return nil, fmt.Errorf("store: unsupported tools file format %q", filepath.Ext(f.path))
	}

	configs := make([]manager.ToolVersionConfig, 0, len(doc.Tools))
	for _, rec := range doc.Tools {
		if rec.Tool == "" || rec.Version == "" {
			// Malformed record; skip it rather than poison the set.
			continue
		}
		method := rec.Method
		if method == "" {
			method = "sse"
		}
		configs = append(configs, manager.ToolVersionConfig{
			Tool:          rec.Tool,
			Version:       rec.Version,
			Method:        method,
			Args:          rec.Args,
			PreferredPort: rec.PreferredPort,
			Env:           rec.Env,
			RequiredEnv:   rec.RequiredEnv,
		})
	}
	return configs, nil
}
