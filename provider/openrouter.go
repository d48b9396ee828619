package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"parley/config"
	"parley/mcp"
	"parley/model"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenRouterProvider implements model.Provider using OpenAI's official Go SDK.
// It connects to OpenRouter's API which is OpenAI-compatible and adds a
// "reasoning" delta field.
type OpenRouterProvider struct {
	client  openai.Client
	model   string
	baseURL string
	apiKey  string
}

// NewOpenRouterProvider creates a new OpenRouter provider instance.
//
// Parameters:
//   - baseURL: OpenRouter API base URL ("https://openrouter.ai/api/v1")
//   - apiKey: OpenRouter API key
//   - model: Initial model to use (can be changed with SetModel)
//
// Returns an error if the API key is missing.
func NewOpenRouterProvider(baseURL, apiKey, model string) (*OpenRouterProvider, error) {
	if baseURL == "" {
		baseURL = config.ProviderDefaultBaseURL("openrouter")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required")
	}
	if model == "" {
		model = "meta-llama/llama-3.2-90b-instruct"
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &OpenRouterProvider{
		client:  client,
		model:   model,
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

// convertToolNamesForOpenRouter converts tool names from dotted notation to underscore notation.
// OpenRouter API requires tool names matching ^[a-zA-Z0-9_-]{1,64}$ (no dots allowed).
// Example: "server-filesystem.read_file" → "server-filesystem__read_file"
func convertToolNamesForOpenRouter(tools []model.ToolSpec) []model.ToolSpec {
	converted := make([]model.ToolSpec, len(tools))
	for i, tool := range tools {
		converted[i] = tool
		converted[i].Name = strings.ReplaceAll(tool.Name, ".", "__")
	}
	return converted
}

// convertToolNameFromOpenRouter reverses convertToolNamesForOpenRouter.
// Example: "server-filesystem__read_file" → "server-filesystem.read_file"
func convertToolNameFromOpenRouter(toolName string) string {
	return strings.ReplaceAll(toolName, "__", ".")
}

// Stream implements model.Provider.Stream.
func (p *OpenRouterProvider) Stream(ctx context.Context, req model.Request, handler model.FragmentHandler) error {
	params := openai.ChatCompletionNewParams{
		Messages: ConvertToOpenAIMessages(withAgentPrompt(req.Messages, req.Agent)),
		Model:    openai.ChatModel(modelOr(req.Model, p.model)),
	}
	if len(req.Tools) > 0 {
		params.Tools = mcp.ConvertToolSpecsToOpenAIFormat(convertToolNamesForOpenRouter(req.Tools))
		if config.DebugLog != nil {
			config.DebugLog.Printf("[OpenRouter] Model '%s': sending %d tools", params.Model, len(req.Tools))
		}
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	return streamChatCompletion("OpenRouter", stream, handler, convertToolNameFromOpenRouter)
}

// ListModels implements model.Provider.ListModels with prefix stripping.
//
// OpenRouter reports supported request parameters and input modalities per
// model; both are read from the raw JSON of each entry.
func (p *OpenRouterProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, model.NewTransportError("failed to list OpenRouter models", err)
	}

	result := make([]model.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		info := model.ModelInfo{
			Name:         stripProviderPrefix(m.ID), // Display: "llama-3.2-90b-instruct"
			InternalName: m.ID,                      // API: "meta-llama/llama-3.2-90b-instruct"
			Provider:     "openrouter",
		}
		if f, ok := m.JSON.ExtraFields["supported_parameters"]; ok {
			info.SupportsTools = rawListContains(f.Raw(), "tools")
		}
		if f, ok := m.JSON.ExtraFields["architecture"]; ok {
			info.SupportsImages = rawModalitiesContain(f.Raw(), "image")
			info.SupportsFiles = rawModalitiesContain(f.Raw(), "file")
		}
		result = append(result, info)
	}

	return result, nil
}

// GetModel implements model.Provider.GetModel.
// Returns the full model name with vendor prefix for API calls.
// Example: "qwen/qwen3-coder:free"
func (p *OpenRouterProvider) GetModel() string {
	return p.model
}

// GetDisplayName implements model.Provider.GetDisplayName.
// Example: "qwen/qwen3-coder:free" → "qwen3-coder:free"
func (p *OpenRouterProvider) GetDisplayName() string {
	return stripProviderPrefix(p.model)
}

// SetModel implements model.Provider.SetModel.
func (p *OpenRouterProvider) SetModel(model string) {
	p.model = model
}

// Ping implements model.Provider.Ping by attempting to list models.
func (p *OpenRouterProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return model.NewTransportError("OpenRouter ping failed", err)
	}
	return nil
}

// stripProviderPrefix removes vendor prefixes from OpenRouter model names.
// "meta-llama/llama-3.2-90b-instruct" → "llama-3.2-90b-instruct"
func stripProviderPrefix(modelName string) string {
	if idx := strings.Index(modelName, "/"); idx != -1 {
		return modelName[idx+1:]
	}
	return modelName
}

// rawListContains reports whether a raw JSON string array holds want
func rawListContains(raw, want string) bool {
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return false
	}
	return slices.Contains(list, want)
}

// rawModalitiesContain reads architecture.input_modalities
func rawModalitiesContain(raw, want string) bool {
	var arch struct {
		InputModalities []string `json:"input_modalities"`
	}
	if err := json.Unmarshal([]byte(raw), &arch); err != nil {
		return false
	}
	return slices.Contains(arch.InputModalities, want)
}
