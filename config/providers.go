package config

// RequiresAPIKey reports whether a provider needs a credential before any
// request can be sent. Local providers don't.
func RequiresAPIKey(providerID string) bool {
	switch providerID {
	case "ollama", "sse":
		return false
	default:
		return true
	}
}

// ProviderDisplayName returns the display name for a provider
func ProviderDisplayName(providerID string) string {
	switch providerID {
	case "ollama":
		return "Ollama"
	case "openrouter":
		return "OpenRouter"
	case "anthropic":
		return "Anthropic"
	case "openai":
		return "OpenAI"
	case "sse":
		return "SSE endpoint"
	default:
		return providerID
	}
}

// ProviderDefaultBaseURL returns the default base URL for a provider
func ProviderDefaultBaseURL(providerID string) string {
	switch providerID {
	case "ollama":
		return "http://localhost:11434"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "anthropic":
		return "https://api.anthropic.com"
	case "openai":
		return "https://api.openai.com/v1"
	default:
		return ""
	}
}

// BaseURL returns the configured base URL of a provider, or its default
func (c *Config) BaseURL(providerID string) string {
	if p, ok := c.Provider(providerID); ok && p.BaseURL != "" {
		return p.BaseURL
	}
	return ProviderDefaultBaseURL(providerID)
}
