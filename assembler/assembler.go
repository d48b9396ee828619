// Package assembler folds the fragments of one streaming exchange into a
// draft assistant message.
//
// Content fragments go through an incremental scanner that removes inline
// <think>...</think> spans from the visible text and turns their interiors
// into reasoning. Direct reasoning fragments and tool-call argument fragments
// also surface as reasoning; providers often carry justification text in
// tool arguments. Reasoning is ordered direct reasoning, then tool arguments,
// then text extracted from think spans.
//
// The result is confluent: applying fragments one by one yields the same
// final draft as applying their concatenation as a single fragment.
package assembler

import (
	"sort"
	"strings"

	"parley/model"
)

// Draft is a snapshot of the in-progress assistant message
type Draft struct {
	Content   string
	Reasoning string
	ToolCalls []model.ToolCall
}

// ToolNames returns the distinct requested tool names, sorted
func (d Draft) ToolNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, c := range d.ToolCalls {
		if c.Name == "" || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

type toolBuffer struct {
	id   string
	name string
	args strings.Builder
}

// Assembler holds the transient state of one exchange. It is not safe for
// concurrent use; the dispatch controller drives it from a single goroutine.
type Assembler struct {
	scanner   thinkScanner
	reasoning strings.Builder
	toolArgs  strings.Builder // tool-call argument text, kept apart for confluence
	tools     map[int]*toolBuffer
	order     []int
	finalized bool
}

// New creates an empty assembler
func New() *Assembler {
	return &Assembler{tools: make(map[int]*toolBuffer)}
}

// Apply folds one fragment into the draft and returns the new snapshot.
// Fragments applied after Finalize are ignored.
func (a *Assembler) Apply(f model.Fragment) Draft {
	if a.finalized {
		return a.Snapshot()
	}

	if f.Content != "" {
		a.scanner.write(f.Content)
	}
	if f.Reasoning != "" {
		a.reasoning.WriteString(f.Reasoning)
	}
	for _, tc := range f.ToolCalls {
		a.applyToolCall(tc)
	}

	return a.Snapshot()
}

func (a *Assembler) applyToolCall(tc model.ToolCallDelta) {
	buf, ok := a.tools[tc.Index]
	if !ok {
		buf = &toolBuffer{}
		a.tools[tc.Index] = buf
		a.order = append(a.order, tc.Index)
	}
	if tc.ID != "" {
		buf.id = tc.ID
	}
	if tc.Name != "" {
		buf.name = tc.Name
	}
	buf.args.WriteString(tc.Arguments)
	a.toolArgs.WriteString(tc.Arguments)
}

// Snapshot returns the current draft without consuming input
func (a *Assembler) Snapshot() Draft {
	d := Draft{
		Content:   a.scanner.visible.String(),
		Reasoning: a.reasoning.String() + a.toolArgs.String() + a.scanner.derived.String(),
	}
	for _, idx := range a.order {
		buf := a.tools[idx]
		d.ToolCalls = append(d.ToolCalls, model.ToolCall{
			ID:        buf.id,
			Name:      buf.name,
			Arguments: buf.args.String(),
		})
	}
	return d
}

// Finalize resolves any held-back sentinel text and returns the final draft.
// Calling it more than once returns the same draft.
func (a *Assembler) Finalize() Draft {
	if !a.finalized {
		a.scanner.flush()
		a.finalized = true
	}
	return a.Snapshot()
}
