package model

import (
	"context"
)

// Provider abstracts LLM provider transports (Ollama, OpenAI, OpenRouter,
// Anthropic, generic SSE endpoints).
//
// This interface lives in the model package (not provider package) so the
// dispatch layer can depend on it without importing provider implementations.
type Provider interface {
	// Stream sends the request and invokes handler once per received fragment,
	// in arrival order. It returns after the terminal sentinel or on error.
	// A handler error aborts the stream and is returned unchanged.
	Stream(ctx context.Context, req Request, handler FragmentHandler) error

	// ListModels returns available models with their capability flags.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// GetModel returns the currently selected model name (InternalName for API calls).
	GetModel() string

	// GetDisplayName returns the model name formatted for display.
	GetDisplayName() string

	// SetModel changes the active model.
	SetModel(model string)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// FragmentHandler is called for each streamed fragment.
type FragmentHandler func(Fragment) error

// ModelInfo is one entry of a provider's model registry
type ModelInfo struct {
	Name           string `json:"name"`     // Display name (stripped for OpenRouter)
	InternalName   string `json:"id"`       // Full API name
	Provider       string `json:"provider"` // Provider ID: "ollama", "openrouter", ...
	Size           int64  `json:"size,omitempty"`
	SupportsTools  bool   `json:"supports_tools"`
	SupportsImages bool   `json:"supports_images"`
	SupportsFiles  bool   `json:"supports_files"`
}
