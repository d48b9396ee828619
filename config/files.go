package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Two files make up the configuration: settings.toml in the config dir only
// says where the data dir is, and config.toml inside the data dir holds
// providers, models, agents and plugins. Either is seeded from its template
// the first time it is read.

const userConfigFile = "config.toml"

// UserConfigPath returns the location of config.toml in a data dir
func UserConfigPath(dataDir string) string {
	return filepath.Join(dataDir, userConfigFile)
}

// LoadSystemConfig reads settings.toml
func LoadSystemConfig() (*SystemConfig, error) {
	cfg := DefaultSystemConfig()
	if err := decodeOrSeed(GetSettingsFilePath(), GenerateSystemConfigTemplate(), cfg); err != nil {
		return nil, fmt.Errorf("settings.toml: %w", err)
	}
	return cfg, nil
}

// LoadUserConfig reads config.toml from the data dir
func LoadUserConfig(dataDir string) (*UserConfig, error) {
	cfg := DefaultUserConfig()
	if err := decodeOrSeed(UserConfigPath(dataDir), GenerateUserConfigTemplate(), cfg); err != nil {
		return nil, fmt.Errorf("config.toml: %w", err)
	}
	return cfg, nil
}

// SaveUserConfig replaces config.toml with cfg. Comments from the template
// are not preserved.
func SaveUserConfig(cfg *UserConfig, dataDir string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config.toml: %w", err)
	}
	return writePrivate(UserConfigPath(dataDir), buf.Bytes())
}

// decodeOrSeed decodes the file at path into v. When the file is missing it
// is written from template and v keeps its defaults.
func decodeOrSeed(path, template string, v any) error {
	if !FileExists(path) {
		return writePrivate(path, []byte(template))
	}
	if _, err := toml.DecodeFile(path, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writePrivate writes a user-only file (0600) under a user-only dir (0700)
func writePrivate(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
