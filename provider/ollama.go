package provider

import (
	"context"
	"errors"
	"fmt"

	"parley/capability"
	"parley/mcp"
	"parley/model"
	"parley/ollama"

	"github.com/ollama/ollama/api"
)

// OllamaProvider wraps ollama.Client to implement model.Provider.
//
// It converts chat messages to api.Message, tool specs to api.Tool and every
// streamed api.Message delta to a model.Fragment.
type OllamaProvider struct {
	client *ollama.Client
}

// NewOllamaProvider creates a new Ollama provider instance.
//
// Parameters:
//   - baseURL: The Ollama server URL (e.g., "http://localhost:11434").
//     If empty, defaults to "http://localhost:11434".
//   - model: The model name to use (e.g., "llama3.1:latest").
//     If empty, defaults to "llama3.1:latest".
//
// Returns an error if the baseURL is invalid.
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	client, err := ollama.NewClient(baseURL, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	return &OllamaProvider{client: client}, nil
}

// handlerError marks an error returned by the fragment handler so it can be
// told apart from transport failures after the Ollama client returns.
type handlerError struct{ err error }

func (e handlerError) Error() string { return e.err.Error() }

// Stream implements model.Provider.Stream.
func (p *OllamaProvider) Stream(ctx context.Context, req model.Request, handler model.FragmentHandler) error {
	if req.Model != "" && req.Model != p.client.GetModel() {
		p.client.SetModel(req.Model)
	}

	messages := ConvertToOllamaMessages(withAgentPrompt(req.Messages, req.Agent))

	var tools []api.Tool
	if len(req.Tools) > 0 {
		tools = mcp.ConvertToolSpecsToOllama(req.Tools)
	}

	err := p.client.ChatWithTools(ctx, messages, tools, func(delta api.Message) error {
		frag, err := FragmentFromOllama(delta)
		if err != nil {
			return handlerError{err}
		}
		if frag.IsEmpty() {
			return nil
		}
		if err := handler(frag); err != nil {
			return handlerError{err}
		}
		return nil
	})

	var he handlerError
	if errors.As(err, &he) {
		return he.err
	}
	if err != nil {
		return model.NewTransportError("Ollama chat failed", err)
	}
	return nil
}

// ListModels implements model.Provider.ListModels.
//
// The Ollama list endpoint has no capability metadata; tool support follows
// the model-family table and images default to false.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	local, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, model.NewTransportError("failed to list Ollama models", err)
	}

	result := make([]model.ModelInfo, len(local))
	for i, m := range local {
		result[i] = model.ModelInfo{
			Name:          m.Name,
			InternalName:  m.Name,
			Provider:      "ollama",
			Size:          m.Size,
			SupportsTools: capability.ModelSupportsToolCalling(m.Name),
		}
	}
	return result, nil
}

// GetModel implements model.Provider.GetModel.
func (p *OllamaProvider) GetModel() string {
	return p.client.GetModel()
}

// GetDisplayName implements model.Provider.GetDisplayName.
// For Ollama, the display name is the model name.
func (p *OllamaProvider) GetDisplayName() string {
	return p.client.GetModel()
}

// SetModel implements model.Provider.SetModel.
func (p *OllamaProvider) SetModel(model string) {
	p.client.SetModel(model)
}

// Ping implements model.Provider.Ping.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return model.NewTransportError("Ollama server not reachable", err)
	}
	return nil
}
