package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Manifest is the app manifest shipped next to the native build.
type Manifest struct {
	Name           string          `yaml:"name" toml:"name"`
	Version        string          `yaml:"version" toml:"version"`
	RuntimeVersion string          `yaml:"runtimeVersion" toml:"runtime_version"`
	Updates        ManifestUpdates `yaml:"updates" toml:"updates"`
}

// ManifestUpdates is the updates section of the manifest.
type ManifestUpdates struct {
	URL     string `yaml:"url" toml:"url"`
	Channel string `yaml:"channel" toml:"channel"`
}

// LoadManifest reads a YAML or TOML manifest, chosen by file extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	case ".toml":
		err = toml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	return &m, nil
}
