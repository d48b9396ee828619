package provider

import (
	"fmt"

	"parley/config"
	"parley/model"
)

// NewProvider creates a provider based on configuration.
//
// Returns an error if the provider type is unknown or the provider-specific
// constructor fails (missing API key, invalid URL).
func NewProvider(cfg Config) (model.Provider, error) {
	var (
		p   model.Provider
		err error
	)

	switch cfg.Type {
	case ProviderTypeOllama:
		p, err = asProvider(NewOllamaProvider(cfg.BaseURL, cfg.Model))
	case ProviderTypeOpenRouter:
		p, err = asProvider(NewOpenRouterProvider(cfg.BaseURL, cfg.APIKey, cfg.Model))
	case ProviderTypeOpenAI:
		p, err = asProvider(NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model))
	case ProviderTypeAnthropic:
		p, err = asProvider(NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model))
	case ProviderTypeSSE:
		p, err = asProvider(NewSSEProvider(cfg.BaseURL, cfg.APIKey, cfg.Model))
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}

	if err != nil {
		return nil, err
	}
	return p, nil
}

// asProvider keeps a failed constructor's typed nil out of the interface
func asProvider[T model.Provider](p T, err error) (model.Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

// MapProviderIDToType converts a config provider ID to a factory ProviderType.
// Unknown IDs are passed through as-is and rejected by the factory.
func MapProviderIDToType(id string) ProviderType {
	switch id {
	case "ollama":
		return ProviderTypeOllama
	case "openrouter":
		return ProviderTypeOpenRouter
	case "openai":
		return ProviderTypeOpenAI
	case "anthropic":
		return ProviderTypeAnthropic
	case "sse":
		return ProviderTypeSSE
	default:
		return ProviderType(id)
	}
}

// InitializeProviders creates a provider for Ollama and every enabled
// configured provider. Failures are logged and skipped so the client can
// still start offline or with missing keys.
func InitializeProviders(cfg *config.Config) map[string]model.Provider {
	providers := make(map[string]model.Provider)

	ids := []string{"ollama"}
	for _, pc := range cfg.Providers {
		if pc.Enabled && pc.ID != "ollama" {
			ids = append(ids, pc.ID)
		}
	}

	for _, id := range ids {
		modelName := ""
		if id == cfg.DefaultProvider {
			modelName = cfg.DefaultModel
		}

		p, err := NewProvider(Config{
			Type:    MapProviderIDToType(id),
			BaseURL: cfg.BaseURL(id),
			APIKey:  cfg.APIKey(id),
			Model:   modelName,
		})
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Provider] Warning: failed to initialize provider %s: %v", id, err)
			}
			continue
		}

		providers[id] = p
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Provider] Initialized provider: %s", id)
		}
	}

	return providers
}
