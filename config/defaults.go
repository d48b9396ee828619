package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/parley",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		DefaultProvider: "ollama",
		DefaultModel:    "llama3.1:latest",
		MaxToolOutput:   16000,
		Providers: []ProviderConfig{
			{ID: "ollama", Name: "Ollama", Enabled: true, BaseURL: "http://localhost:11434"},
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# Parley System Configuration
# Location: ~/.config/parley/settings.toml
# This file uses TOML format: https://toml.io

# Directory where sessions, caches and user config are stored
data_directory = "~/.local/share/parley"
`
}

func GenerateUserConfigTemplate() string {
	return `# Parley User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

# Provider and model used when a session doesn't name one
default_provider = "ollama"
default_model = "llama3.1:latest"

# System prompt for new conversations (optional)
# Example: "You are a helpful coding assistant."
default_system_prompt = ""

# Characters of tool output sent back to the model per call
max_tool_output = 16000

[[providers]]
id = "ollama"
name = "Ollama"
enabled = true
base_url = "http://localhost:11434"

# Cloud providers read their key from PARLEY_<ID>_API_KEY unless api_key_env is set.
# [[providers]]
# id = "openrouter"
# name = "OpenRouter"
# enabled = true
# base_url = "https://openrouter.ai/api/v1"

# Any endpoint streaming {"content","reasoning","tool_calls"} chunks over SSE
# [[providers]]
# id = "sse"
# name = "Local gateway"
# enabled = true
# base_url = "http://localhost:8080/v1/chat"

# Capability flags for models whose provider doesn't report them
# [[models]]
# id = "my-vision-model"
# provider = "sse"
# supports_tools = true
# supports_images = true

# Agents override the system prompt for a single turn
# [agents]
# reviewer = "You review code and point out bugs."

# MCP servers started over stdio when tools are activated
# [[plugins]]
# id = "filesystem"
# command = "npx"
# args = ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
# enabled = false
`
}
