package provider

import (
	"context"
	"fmt"
	"strings"

	"parley/config"
	"parley/mcp"
	"parley/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

// AnthropicProvider implements model.Provider using Anthropic's official API.
type AnthropicProvider struct {
	client  *anthropic.Client
	model   anthropic.Model
	baseURL string
	apiKey  string
}

// NewAnthropicProvider creates a new Anthropic provider instance.
//
// Parameters:
//   - baseURL: Anthropic API base URL (default: "https://api.anthropic.com")
//   - apiKey: Anthropic API key (required)
//   - model: Initial model to use (default: "claude-sonnet-4-5-20250929")
//
// Returns an error if the API key is missing.
func NewAnthropicProvider(baseURL, apiKey, model string) (*AnthropicProvider, error) {
	if baseURL == "" {
		baseURL = config.ProviderDefaultBaseURL("anthropic")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	anthropicModel := anthropic.ModelClaudeSonnet4_5_20250929
	if model != "" {
		anthropicModel = anthropic.Model(model)
	}

	client := anthropic.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &AnthropicProvider{
		client:  &client,
		model:   anthropicModel,
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

// Stream implements model.Provider.Stream.
//
// Text deltas become content, thinking deltas become reasoning and tool_use
// blocks become tool call deltas keyed by their content block index.
func (p *AnthropicProvider) Stream(ctx context.Context, req model.Request, handler model.FragmentHandler) error {
	messages, system := ConvertToAnthropicMessages(withAgentPrompt(req.Messages, req.Agent))

	params := anthropic.MessageNewParams{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: anthropicMaxTokens,
	}
	if req.Model != "" {
		params.Model = anthropic.Model(req.Model)
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = mcp.ConvertToolSpecsToAnthropicFormat(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()

		var frag model.Fragment
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				frag.ToolCalls = []model.ToolCallDelta{{
					Index: int(ev.Index),
					ID:    ev.ContentBlock.ID,
					Name:  ev.ContentBlock.Name,
				}}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				frag.Content = delta.Text
			case anthropic.ThinkingDelta:
				frag.Reasoning = delta.Thinking
			case anthropic.InputJSONDelta:
				frag.ToolCalls = []model.ToolCallDelta{{
					Index:     int(ev.Index),
					Arguments: delta.PartialJSON,
				}}
			}
		}

		if frag.IsEmpty() {
			continue
		}
		if err := handler(frag); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Anthropic] Stream error: %v", err)
		}
		return model.NewTransportError("Anthropic stream failed", err)
	}
	return nil
}

// ListModels implements model.Provider.ListModels.
// Returns a curated list of known Claude models; all accept tools and images.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	models := []anthropic.Model{
		anthropic.ModelClaudeSonnet4_5_20250929,
		anthropic.ModelClaude3_5Haiku20241022,
		anthropic.ModelClaude_3_Opus_20240229,
		anthropic.ModelClaude_3_Haiku_20240307,
	}

	result := make([]model.ModelInfo, 0, len(models))
	for _, m := range models {
		id := string(m)
		result = append(result, model.ModelInfo{
			Name:           id,
			InternalName:   id,
			Provider:       "anthropic",
			SupportsTools:  true,
			SupportsImages: !strings.HasPrefix(id, "claude-3-5-haiku"),
			SupportsFiles:  true,
		})
	}

	return result, nil
}

// GetModel implements model.Provider.GetModel.
func (p *AnthropicProvider) GetModel() string {
	return string(p.model)
}

// GetDisplayName implements model.Provider.GetDisplayName.
func (p *AnthropicProvider) GetDisplayName() string {
	return string(p.model)
}

// SetModel implements model.Provider.SetModel.
func (p *AnthropicProvider) SetModel(model string) {
	p.model = anthropic.Model(model)
}

// Ping implements model.Provider.Ping with a minimal request; Anthropic has
// no health endpoint.
func (p *AnthropicProvider) Ping(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return model.NewTransportError("Anthropic ping failed", err)
	}
	return nil
}
