package model

import (
	"fmt"
	"sort"
)

// ToolState is the lifecycle state of a tool invocation
type ToolState string

const (
	ToolDecided    ToolState = "decided"
	ToolExecuting  ToolState = "executing"
	ToolProcessing ToolState = "processing"
	ToolFinished   ToolState = "finished"
	ToolError      ToolState = "error"
)

// IsTerminal reports whether no transition may leave the state
func (s ToolState) IsTerminal() bool {
	return s == ToolFinished || s == ToolError
}

// ToolStatus is the tool invocation state embedded in its owning assistant message
type ToolStatus struct {
	State   ToolState `json:"state"`
	Tools   []string  `json:"tools"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Clone returns a copy with its own tool slice
func (s ToolStatus) Clone() ToolStatus {
	out := s
	out.Tools = append([]string(nil), s.Tools...)
	return out
}

// AddTools merges names into the tool set, keeping it sorted and unique
func (s *ToolStatus) AddTools(names ...string) {
	seen := make(map[string]bool, len(s.Tools)+len(names))
	merged := make([]string, 0, len(s.Tools)+len(names))
	for _, n := range append(append([]string(nil), s.Tools...), names...) {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		merged = append(merged, n)
	}
	sort.Strings(merged)
	s.Tools = merged
}

// toolTransitions lists the allowed forward moves. The empty state is the
// moment before the backend signals tool intent. Any non-terminal state may
// additionally move to ToolError.
var toolTransitions = map[ToolState][]ToolState{
	"":             {ToolDecided},
	ToolDecided:    {ToolExecuting},
	ToolExecuting:  {ToolProcessing},
	ToolProcessing: {ToolFinished},
}

// ValidateToolTransition checks whether a tool state transition is allowed
func ValidateToolTransition(from, to ToolState) error {
	if from.IsTerminal() {
		return fmt.Errorf("invalid transition from %s to %s: %s is terminal", from, to, from)
	}
	if to == ToolError {
		return nil
	}

	for _, s := range toolTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s", from, to)
}
