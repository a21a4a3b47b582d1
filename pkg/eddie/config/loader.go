package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SettingsFromFile loads a settings file and resolves it against
// DefaultSettings. It is the usual entry point for binaries embedding
// the hub; eddie.WithConfigFile routes through it.
func SettingsFromFile(path string) (Settings, error) {
	c, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return SettingsFrom(c), nil
}

// FromFile loads configuration from a file, picking the parser by
// extension. YAML (.yaml, .yml) and JSON (.json) are supported.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read settings file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported settings file extension %q", ext)
	}
}

// FromYAML parses YAML settings into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("decode yaml settings: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON settings into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("decode json settings: %w", err)
	}
	return New(m), nil
}
