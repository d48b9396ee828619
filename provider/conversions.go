package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"parley/config"
	"parley/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

// ConvertToOllamaMessages converts chat messages to Ollama api.Message.
//
// Ollama accepts raw image bytes only, so data: URLs are decoded and remote
// image URLs are skipped. Reasoning is never sent back.
func ConvertToOllamaMessages(messages []model.Message) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		out := api.Message{
			Role:    string(msg.Role),
			Content: msg.PlainText(),
		}
		for _, url := range msg.Images() {
			data, err := DecodeDataURL(url)
			if err != nil {
				if config.DebugLog != nil {
					config.DebugLog.Printf("[Ollama] Skipping image attachment: %v", err)
				}
				continue
			}
			out.Images = append(out.Images, api.ImageData(data))
		}
		result[i] = out
	}
	return result
}

// FragmentFromOllama converts one streamed Ollama message delta.
// Ollama delivers each tool call whole, so its arguments are re-encoded as JSON text.
func FragmentFromOllama(delta api.Message) (model.Fragment, error) {
	frag := model.Fragment{
		Content:   delta.Content,
		Reasoning: delta.Thinking,
	}

	for i, call := range delta.ToolCalls {
		args, err := json.Marshal(call.Function.Arguments)
		if err != nil {
			return model.Fragment{}, model.NewParseError("invalid tool call arguments", err)
		}
		idx := call.Function.Index
		if idx == 0 {
			idx = i
		}
		frag.ToolCalls = append(frag.ToolCalls, model.ToolCallDelta{
			Index:     idx,
			Name:      call.Function.Name,
			Arguments: string(args),
		})
	}
	return frag, nil
}

// DecodeDataURL returns the payload of a base64 data: URL
func DecodeDataURL(url string) ([]byte, error) {
	if !strings.HasPrefix(url, "data:") {
		return nil, fmt.Errorf("not a data URL: %.40s", url)
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	return data, nil
}

// ConvertToOpenAIMessages converts chat messages to OpenAI format.
// User messages with images become multi-part content.
func ConvertToOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.SystemMessage(msg.PlainText())
		case model.RoleAssistant:
			result[i] = openai.AssistantMessage(msg.PlainText())
		default:
			if !msg.HasImages() {
				result[i] = openai.UserMessage(msg.PlainText())
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{}
			if text := msg.PlainText(); text != "" {
				parts = append(parts, openai.TextContentPart(text))
			}
			for _, url := range msg.Images() {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
			result[i] = openai.UserMessage(parts)
		}
	}

	return result
}

// ConvertToAnthropicMessages converts chat messages to Anthropic format.
// System messages go to the separate system parameter.
func ConvertToAnthropicMessages(messages []model.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var systemBlocks []anthropic.TextBlockParam
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: msg.PlainText()})

		case model.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.PlainText())))

		default:
			var blocks []anthropic.ContentBlockParamUnion
			for _, url := range msg.Images() {
				blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: url}))
			}
			if text := msg.PlainText(); text != "" || len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}

	return result, systemBlocks
}

// withAgentPrompt applies a per-turn agent system prompt. The agent prompt
// replaces the conversation's system message for this request only.
func withAgentPrompt(messages []model.Message, agent string) []model.Message {
	if agent == "" {
		return messages
	}
	out := make([]model.Message, 0, len(messages)+1)
	out = append(out, model.Message{Role: model.RoleSystem, Text: agent})
	for _, m := range messages {
		if m.Role == model.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
