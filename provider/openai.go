package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"parley/config"
	"parley/mcp"
	"parley/model"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// OpenAIProvider implements model.Provider using OpenAI's official API.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	baseURL string
	apiKey  string
}

// NewOpenAIProvider creates a new OpenAI provider instance.
//
// Parameters:
//   - baseURL: OpenAI API base URL (default: "https://api.openai.com/v1")
//   - apiKey: OpenAI API key (required)
//   - model: Initial model to use (default: "gpt-4o-mini")
//
// Returns an error if the API key is missing.
func NewOpenAIProvider(baseURL, apiKey, model string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = config.ProviderDefaultBaseURL("openai")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &OpenAIProvider{
		client:  client,
		model:   model,
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

// Stream implements model.Provider.Stream.
func (p *OpenAIProvider) Stream(ctx context.Context, req model.Request, handler model.FragmentHandler) error {
	params := openai.ChatCompletionNewParams{
		Messages: ConvertToOpenAIMessages(withAgentPrompt(req.Messages, req.Agent)),
		Model:    openai.ChatModel(modelOr(req.Model, p.model)),
	}
	if len(req.Tools) > 0 {
		params.Tools = mcp.ConvertToolSpecsToOpenAIFormat(req.Tools)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	return streamChatCompletion("OpenAI", stream, handler, nil)
}

// streamChatCompletion forwards every chunk of an OpenAI-compatible stream as
// a fragment. renameTool, when set, maps backend tool names back to ours.
func streamChatCompletion(name string, stream *ssestream.Stream[openai.ChatCompletionChunk], handler model.FragmentHandler, renameTool func(string) string) error {
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}

		frag := FragmentFromOpenAIDelta(chunk.Choices[0].Delta)
		if renameTool != nil {
			for i := range frag.ToolCalls {
				frag.ToolCalls[i].Name = renameTool(frag.ToolCalls[i].Name)
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
			config.DebugLog.Printf("[%s] Stream error: %v", name, err)
		}
		return classifyStreamError(name, err)
	}
	return nil
}

// classifyStreamError separates chunks the SDK could not decode from
// failures of the connection itself
func classifyStreamError(name string, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return model.NewParseError(fmt.Sprintf("%s sent a malformed chunk", name), err)
	}
	return model.NewTransportError(fmt.Sprintf("%s stream failed", name), err)
}

// FragmentFromOpenAIDelta converts one chunk delta. Reasoning is read from the
// non-standard "reasoning" field that OpenRouter and several compatible
// servers add.
func FragmentFromOpenAIDelta(delta openai.ChatCompletionChunkChoiceDelta) model.Fragment {
	frag := model.Fragment{Content: delta.Content}

	if f, ok := delta.JSON.ExtraFields["reasoning"]; ok {
		frag.Reasoning = unquoteRaw(f.Raw())
	}

	for _, tc := range delta.ToolCalls {
		frag.ToolCalls = append(frag.ToolCalls, model.ToolCallDelta{
			Index:     int(tc.Index),
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return frag
}

// ListModels implements model.Provider.ListModels.
//
// OpenAI's model list carries no capability metadata; the tool and image
// flags follow the model family.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, model.NewTransportError("failed to list OpenAI models", err)
	}

	result := make([]model.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		chat := isOpenAIChatModel(m.ID)
		result = append(result, model.ModelInfo{
			Name:           m.ID,
			InternalName:   m.ID,
			Provider:       "openai",
			SupportsTools:  chat,
			SupportsImages: chat && isOpenAIVisionModel(m.ID),
		})
	}

	return result, nil
}

func isOpenAIChatModel(id string) bool {
	for _, prefix := range []string{"gpt-4", "gpt-5", "o1", "o3", "o4", "chatgpt"} {
		if strings.HasPrefix(id, prefix) {
			return !strings.Contains(id, "audio") && !strings.Contains(id, "realtime") && !strings.Contains(id, "transcribe")
		}
	}
	return false
}

func isOpenAIVisionModel(id string) bool {
	return strings.HasPrefix(id, "gpt-4o") || strings.HasPrefix(id, "gpt-4.1") ||
		strings.HasPrefix(id, "gpt-5") || strings.HasPrefix(id, "o3") || strings.HasPrefix(id, "o4")
}

// GetModel implements model.Provider.GetModel.
func (p *OpenAIProvider) GetModel() string {
	return p.model
}

// GetDisplayName implements model.Provider.GetDisplayName.
func (p *OpenAIProvider) GetDisplayName() string {
	return p.model
}

// SetModel implements model.Provider.SetModel.
func (p *OpenAIProvider) SetModel(model string) {
	p.model = model
}

// Ping implements model.Provider.Ping by attempting to list models.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return model.NewTransportError("OpenAI ping failed", err)
	}
	return nil
}

func modelOr(requested, current string) string {
	if requested != "" {
		return requested
	}
	return current
}

// unquoteRaw decodes a raw JSON string value; null and non-strings yield ""
func unquoteRaw(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ""
	}
	return s
}
