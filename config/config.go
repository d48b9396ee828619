package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

// ProviderConfig describes one configured provider endpoint
type ProviderConfig struct {
	ID        string `toml:"id"`
	Name      string `toml:"name"`
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url,omitempty"`
	APIKeyEnv string `toml:"api_key_env,omitempty"` // Env var holding the key (default PARLEY_<ID>_API_KEY)
}

// ModelConfig declares capability flags for a model the provider doesn't describe itself
type ModelConfig struct {
	ID             string `toml:"id"`
	Provider       string `toml:"provider"`
	SupportsTools  bool   `toml:"supports_tools"`
	SupportsImages bool   `toml:"supports_images"`
	SupportsFiles  bool   `toml:"supports_files"`
}

// PluginConfig is an MCP server launched over stdio
type PluginConfig struct {
	ID      string            `toml:"id"`
	Command string            `toml:"command"`
	Args    []string          `toml:"args,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`
	Enabled bool              `toml:"enabled"`
}

type UserConfig struct {
	DefaultProvider     string            `toml:"default_provider"`
	DefaultModel        string            `toml:"default_model"`
	DefaultSystemPrompt string            `toml:"default_system_prompt,omitempty"`
	MaxToolOutput       int               `toml:"max_tool_output,omitempty"`
	Providers           []ProviderConfig  `toml:"providers"`
	Models              []ModelConfig     `toml:"models,omitempty"`
	Agents              map[string]string `toml:"agents,omitempty"`
	Plugins             []PluginConfig    `toml:"plugins,omitempty"`
}

type Config struct {
	DataDirectory       string
	DefaultProvider     string
	DefaultModel        string
	DefaultSystemPrompt string
	MaxToolOutput       int
	Providers           []ProviderConfig
	Models              []ModelConfig
	Agents              map[string]string
	Plugins             []PluginConfig
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// Provider returns the configuration of a provider by ID
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// APIKey returns the API key for a provider from its environment variable
func (c *Config) APIKey(providerID string) string {
	envVar := APIKeyEnvVar(providerID)
	if p, ok := c.Provider(providerID); ok && p.APIKeyEnv != "" {
		envVar = p.APIKeyEnv
	}
	return os.Getenv(envVar)
}

// HasAPIKey reports whether a credential is present for the provider
func (c *Config) HasAPIKey(providerID string) bool {
	return c.APIKey(providerID) != ""
}

// AgentPrompt returns the system prompt of a named agent
func (c *Config) AgentPrompt(name string) (string, bool) {
	prompt, ok := c.Agents[name]
	return prompt, ok
}

// EnabledPlugins returns the MCP servers that should be started
func (c *Config) EnabledPlugins() []PluginConfig {
	var out []PluginConfig
	for _, p := range c.Plugins {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// APIKeyEnvVar returns the default environment variable for a provider's key
// "openrouter" → "PARLEY_OPENROUTER_API_KEY"
func APIKeyEnvVar(providerID string) string {
	id := strings.ToUpper(strings.ReplaceAll(providerID, "-", "_"))
	return fmt.Sprintf("PARLEY_%s_API_KEY", id)
}

func (c *Config) applyUserConfig(userCfg *UserConfig) {
	c.DefaultProvider = userCfg.DefaultProvider
	c.DefaultModel = userCfg.DefaultModel
	c.DefaultSystemPrompt = userCfg.DefaultSystemPrompt
	c.MaxToolOutput = userCfg.MaxToolOutput
	c.Providers = userCfg.Providers
	c.Models = userCfg.Models
	c.Agents = userCfg.Agents
	c.Plugins = userCfg.Plugins
}

func (c *Config) applyEnvOverrides() {
	if provider := os.Getenv("PARLEY_PROVIDER"); provider != "" {
		c.DefaultProvider = provider
	}
	if model := os.Getenv("PARLEY_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if dataDir := os.Getenv("PARLEY_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
}

func CheckDebug() bool {
	debug := os.Getenv("PARLEY_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// Create debug log with secure permissions (0600 - may contain conversation content)
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (PARLEY_DEBUG=%s) ===", os.Getenv("PARLEY_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

func Load() (*Config, error) {
	defaults := DefaultUserConfig()
	cfg := &Config{DataDirectory: DefaultSystemConfig().DataDirectory}
	cfg.applyUserConfig(defaults)

	// The data dir override must be known before the user config is read
	if dataDir := os.Getenv("PARLEY_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	} else {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Ensure data directory has correct permissions (fix if needed)
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	if cfg.MaxToolOutput <= 0 {
		cfg.MaxToolOutput = defaults.MaxToolOutput
	}

	return cfg, nil
}
