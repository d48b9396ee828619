package provider

import (
	"testing"

	"parley/config"
	"parley/model"
)

var (
	_ model.Provider = (*OllamaProvider)(nil)
	_ model.Provider = (*OpenAIProvider)(nil)
	_ model.Provider = (*OpenRouterProvider)(nil)
	_ model.Provider = (*AnthropicProvider)(nil)
	_ model.Provider = (*SSEProvider)(nil)
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "ollama provider with defaults",
			config: Config{Type: ProviderTypeOllama},
		},
		{
			name: "ollama provider with custom config",
			config: Config{
				Type:    ProviderTypeOllama,
				BaseURL: "http://localhost:11434",
				Model:   "llama3.1",
			},
		},
		{
			name: "openai provider",
			config: Config{
				Type:    ProviderTypeOpenAI,
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
				APIKey:  "test-key",
			},
		},
		{
			name:        "openai provider without key",
			config:      Config{Type: ProviderTypeOpenAI, Model: "gpt-4o-mini"},
			expectError: true,
		},
		{
			name: "openrouter provider",
			config: Config{
				Type:   ProviderTypeOpenRouter,
				Model:  "qwen/qwen3-coder:free",
				APIKey: "test-key",
			},
		},
		{
			name: "anthropic provider",
			config: Config{
				Type:    ProviderTypeAnthropic,
				BaseURL: "https://api.anthropic.com",
				Model:   "claude-sonnet-4-5-20250929",
				APIKey:  "test-key",
			},
		},
		{
			name:        "anthropic provider without key",
			config:      Config{Type: ProviderTypeAnthropic},
			expectError: true,
		},
		{
			name:   "sse provider without key",
			config: Config{Type: ProviderTypeSSE, BaseURL: "http://localhost:8080/v1", Model: "m"},
		},
		{
			name:        "sse provider without base url",
			config:      Config{Type: ProviderTypeSSE},
			expectError: true,
		},
		{
			name: "unknown provider type",
			config: Config{
				Type:    ProviderType("unknown"),
				BaseURL: "http://localhost",
				Model:   "test",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.config)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				if provider != nil {
					t.Errorf("expected nil provider, got %T", provider)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider == nil {
				t.Fatal("expected non-nil provider, got nil")
			}
		})
	}
}

// TestFactoryReturnsOllamaProvider verifies that the factory returns an actual OllamaProvider
func TestFactoryReturnsOllamaProvider(t *testing.T) {
	provider, err := NewProvider(Config{
		Type:    ProviderTypeOllama,
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := provider.(*OllamaProvider); !ok {
		t.Errorf("expected *OllamaProvider, got %T", provider)
	}
	if provider.GetModel() != "llama3.1" {
		t.Errorf("GetModel() = %q, want llama3.1", provider.GetModel())
	}
}

func TestMapProviderIDToType(t *testing.T) {
	tests := []struct {
		id   string
		want ProviderType
	}{
		{"ollama", ProviderTypeOllama},
		{"openrouter", ProviderTypeOpenRouter},
		{"openai", ProviderTypeOpenAI},
		{"anthropic", ProviderTypeAnthropic},
		{"sse", ProviderTypeSSE},
		{"custom", ProviderType("custom")},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := MapProviderIDToType(tt.id); got != tt.want {
				t.Errorf("MapProviderIDToType(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestInitializeProviders(t *testing.T) {
	t.Setenv("PARLEY_OPENAI_API_KEY", "sk-test")
	t.Setenv("PARLEY_ANTHROPIC_API_KEY", "")

	cfg := &config.Config{
		DefaultProvider: "openai",
		DefaultModel:    "gpt-4o",
		Providers: []config.ProviderConfig{
			{ID: "openai", Enabled: true},
			{ID: "anthropic", Enabled: true},
			{ID: "openrouter", Enabled: false},
		},
	}

	providers := InitializeProviders(cfg)

	if _, ok := providers["ollama"]; !ok {
		t.Error("ollama should always be initialized")
	}
	openai, ok := providers["openai"]
	if !ok {
		t.Fatal("openai should be initialized when its key is set")
	}
	if openai.GetModel() != "gpt-4o" {
		t.Errorf("default provider model = %q, want gpt-4o", openai.GetModel())
	}
	if _, ok := providers["anthropic"]; ok {
		t.Error("anthropic without a key should be skipped")
	}
	if _, ok := providers["openrouter"]; ok {
		t.Error("disabled provider should be skipped")
	}
}
