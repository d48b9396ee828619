package testutil

import (
	"time"

	"parley/model"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	return []model.Message{
		{
			ID:        "m-1",
			Role:      model.RoleUser,
			Text:      "Hello, how are you?",
			Timestamp: time.Now(),
		},
		{
			ID:        "m-2",
			Role:      model.RoleAssistant,
			Text:      "I'm doing well, thank you!",
			Timestamp: time.Now(),
		},
		{
			ID:        "m-3",
			Role:      model.RoleUser,
			Text:      "Can you help me with a task?",
			Timestamp: time.Now(),
		},
	}
}

// SingleUserMessage returns a single user message for simple tests
func SingleUserMessage(content string) []model.Message {
	return []model.Message{
		{
			Role:      model.RoleUser,
			Text:      content,
			Timestamp: time.Now(),
		},
	}
}

// ImageMessage returns a user message with text and one image part
func ImageMessage(text, url string) model.Message {
	return model.Message{
		Role:      model.RoleUser,
		Parts:     []model.ContentPart{model.TextPart(text), model.ImagePart(url)},
		Timestamp: time.Now(),
	}
}

// TestToolSpecs returns sample tool specs for testing
func TestToolSpecs() []model.ToolSpec {
	return []model.ToolSpec{
		{
			Name:        "weather.get_weather",
			Description: "Get the current weather for a location",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{
						"type":        "string",
						"description": "The city and state, e.g. San Francisco, CA",
					},
				},
				"required": []string{"location"},
			},
		},
		{
			Name:        "math.calculate",
			Description: "Perform a mathematical calculation",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{
						"type":        "string",
						"description": "The mathematical expression to evaluate",
					},
				},
				"required": []string{"expression"},
			},
		},
	}
}

// ContentTurn scripts a turn that streams the given content chunks
func ContentTurn(chunks ...string) Turn {
	frags := make([]model.Fragment, len(chunks))
	for i, c := range chunks {
		frags[i] = model.Fragment{Content: c}
	}
	return Turn{Fragments: frags}
}

// ToolCallTurn scripts a turn that requests one tool call in two argument pieces
func ToolCallTurn(id, name, argsHead, argsTail string) Turn {
	return Turn{Fragments: []model.Fragment{
		{ToolCalls: []model.ToolCallDelta{{Index: 0, ID: id, Name: name, Arguments: argsHead}}},
		{ToolCalls: []model.ToolCallDelta{{Index: 0, Arguments: argsTail}}},
	}}
}

// SystemMessage returns a system message for testing
func SystemMessage(content string) model.Message {
	return model.Message{
		Role:      model.RoleSystem,
		Text:      content,
		Timestamp: time.Now(),
	}
}
