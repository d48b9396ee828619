package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"parley/model"
)

// ToolSpecFromMCP converts an MCP tool into a provider-neutral spec named
// "<pluginID>.<tool>". An empty pluginID leaves the name as it is.
func ToolSpecFromMCP(pluginID string, tool mcptypes.Tool) model.ToolSpec {
	name := tool.Name
	if pluginID != "" {
		name = pluginID + "." + tool.Name
	}

	schemaType := tool.InputSchema.Type
	if schemaType == "" {
		schemaType = "object"
	}
	params := map[string]any{
		"type":       schemaType,
		"properties": tool.InputSchema.Properties,
	}
	if tool.InputSchema.Properties == nil {
		params["properties"] = map[string]any{}
	}
	if len(tool.InputSchema.Required) > 0 {
		params["required"] = tool.InputSchema.Required
	}
	if tool.InputSchema.Defs != nil {
		params["$defs"] = tool.InputSchema.Defs
	}

	return model.ToolSpec{
		Name:        name,
		Description: tool.Description,
		Parameters:  params,
	}
}

// ParseToolName splits "<pluginID>.<tool>" into its parts
func ParseToolName(namespacedName string) (string, string) {
	idx := strings.Index(namespacedName, ".")
	if idx == -1 {
		return "", namespacedName
	}
	return namespacedName[:idx], namespacedName[idx+1:]
}

// ParseArguments decodes the JSON argument text of a tool call. Empty text
// means no arguments.
func ParseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ResultText flattens a tool result into text for the model, truncated to
// maxLen bytes when maxLen > 0
func ResultText(result *mcptypes.CallToolResult, maxLen int) string {
	if result == nil || len(result.Content) == 0 {
		return "Tool executed successfully (no output)"
	}

	var parts []string
	for _, c := range result.Content {
		if text, ok := mcptypes.AsTextContent(c); ok {
			parts = append(parts, text.Text)
			continue
		}
		// Non-text content is passed through as JSON
		data, err := json.Marshal(c)
		if err != nil {
			parts = append(parts, fmt.Sprintf("(unreadable content: %v)", err))
			continue
		}
		parts = append(parts, string(data))
	}

	out := strings.Join(parts, "\n")
	if maxLen > 0 && len(out) > maxLen {
		out = out[:maxLen] + "\n... (truncated)"
	}
	return out
}

// ConvertToolSpecsToOllama converts tool specs to Ollama API tool format
func ConvertToolSpecsToOllama(specs []model.ToolSpec) []api.Tool {
	ollamaTools := make([]api.Tool, 0, len(specs))

	for _, spec := range specs {
		ollamaTools = append(ollamaTools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  convertSchemaToParameters(spec.Parameters),
			},
		})
	}

	return ollamaTools
}

// convertSchemaToParameters converts a JSON Schema object to Ollama ToolFunctionParameters
func convertSchemaToParameters(schema map[string]any) api.ToolFunctionParameters {
	params := api.ToolFunctionParameters{
		Type:       "object",
		Properties: make(map[string]api.ToolProperty),
	}

	if t, ok := schema["type"].(string); ok && t != "" {
		params.Type = t
	}
	params.Required = stringSlice(schema["required"])
	if defs, ok := schema["$defs"]; ok {
		params.Defs = defs
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		for name, value := range props {
			params.Properties[name] = convertPropertyValue(value)
		}
	}

	return params
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// convertPropertyValue converts one JSON Schema property to an Ollama ToolProperty
func convertPropertyValue(propValue any) api.ToolProperty {
	toolProp := api.ToolProperty{}

	propMap, ok := propValue.(map[string]any)
	if !ok {
		// Typed schema structs: round-trip through JSON
		bytes, err := json.Marshal(propValue)
		if err != nil {
			return toolProp
		}
		if err := json.Unmarshal(bytes, &propMap); err != nil {
			return toolProp
		}
	}

	switch t := propMap["type"].(type) {
	case string:
		toolProp.Type = api.PropertyType{t}
	case []string:
		toolProp.Type = api.PropertyType(t)
	case []any:
		toolProp.Type = api.PropertyType(stringSlice(t))
	}

	if desc, ok := propMap["description"].(string); ok {
		toolProp.Description = desc
	}
	if enumSlice, ok := propMap["enum"].([]any); ok {
		toolProp.Enum = enumSlice
	}
	if items, ok := propMap["items"]; ok {
		toolProp.Items = items
	}
	if anyOfSlice, ok := propMap["anyOf"].([]any); ok {
		anyOfProps := make([]api.ToolProperty, 0, len(anyOfSlice))
		for _, item := range anyOfSlice {
			anyOfProps = append(anyOfProps, convertPropertyValue(item))
		}
		toolProp.AnyOf = anyOfProps
	}

	return toolProp
}

// ConvertToolSpecsToOpenAIFormat converts tool specs to the function tool
// format shared by OpenAI and OpenRouter:
//
//	{"type": "function", "function": {"name": ..., "description": ..., "parameters": {...}}}
func ConvertToolSpecsToOpenAIFormat(specs []model.ToolSpec) []openai.ChatCompletionToolUnionParam {
	if len(specs) == 0 {
		return nil
	}

	result := make([]openai.ChatCompletionToolUnionParam, len(specs))
	for i, spec := range specs {
		def := openai.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: openai.FunctionParameters(spec.Parameters),
		}
		if spec.Description != "" {
			def.Description = openai.String(spec.Description)
		}
		result[i] = openai.ChatCompletionFunctionTool(def)
	}

	return result
}

// ConvertToolSpecsToAnthropicFormat converts tool specs to Anthropic tool
// params. The input_schema type defaults to "object" when omitted.
func ConvertToolSpecsToAnthropicFormat(specs []model.ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}

	result := make([]anthropic.ToolUnionParam, len(specs))
	for i, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: spec.Parameters["properties"],
		}
		if required := stringSlice(spec.Parameters["required"]); len(required) > 0 {
			inputSchema.Required = required
		}
		if defs, ok := spec.Parameters["$defs"]; ok {
			inputSchema.ExtraFields = map[string]any{"$defs": defs}
		}

		result[i] = anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			result[i].OfTool.Description = anthropic.String(spec.Description)
		}
	}

	return result
}
