// Package provider implements model.Provider for each supported backend.
//
// Every transport turns its backend's streaming response into model.Fragment
// values, one per received delta, in arrival order:
//   - OllamaProvider: local Ollama server (content, thinking, tool calls)
//   - OpenAIProvider / OpenRouterProvider: Chat Completions via openai-go
//   - AnthropicProvider: Messages API via anthropic-sdk-go
//   - SSEProvider: any endpoint speaking the generic fragment SSE format
//
// Network and HTTP failures are returned as model.NewTransportError, malformed
// stream data as model.NewParseError. A FragmentHandler error stops the stream
// and is returned unchanged.
//
// # Usage
//
//	p, err := provider.NewProvider(provider.Config{
//	    Type:    provider.ProviderTypeOllama,
//	    BaseURL: "http://localhost:11434",
//	    Model:   "llama3.1",
//	})
//	if err != nil {
//	    // handle error
//	}
//	err = p.Stream(ctx, req, func(f model.Fragment) error { ... })
package provider

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOllama     ProviderType = "ollama"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeAnthropic  ProviderType = "anthropic"
	ProviderTypeSSE        ProviderType = "sse"
)

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string // Unused for Ollama
}
