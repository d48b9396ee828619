package model

// ToolCallDelta is one streamed piece of a tool call the model is requesting.
// Name usually arrives only on the first delta of a call; Arguments are
// partial JSON text.
type ToolCallDelta struct {
	Index     int    `json:"index,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Fragment is one incremental piece of a streaming response
type Fragment struct {
	Content    string          `json:"content,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
	ToolCalls  []ToolCallDelta `json:"tool_calls,omitempty"`
	ToolStatus *ToolStatus     `json:"tool_status,omitempty"`
}

// IsEmpty reports whether the fragment carries nothing to apply
func (f Fragment) IsEmpty() bool {
	return f.Content == "" && f.Reasoning == "" && len(f.ToolCalls) == 0 && f.ToolStatus == nil
}

// ToolCall is a complete tool call assembled from its deltas
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON object text
}

// ToolSpec describes a tool the model may call
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Request is the outbound streaming chat request
type Request struct {
	Model    string
	Messages []Message
	Stream   bool
	Tools    []ToolSpec
	Agent    string
}

// ToolNames returns the names of the active tools in request order
func (r Request) ToolNames() []string {
	names := make([]string, len(r.Tools))
	for i, t := range r.Tools {
		names[i] = t.Name
	}
	return names
}
