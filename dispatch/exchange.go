package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"parley/assembler"
	"parley/config"
	"parley/conversation"
	"parley/metrics"
	"parley/model"
)

// exchange is the transient state of one request and its reply. The draft
// message is appended on the first fragment and replaced in place after.
type exchange struct {
	c        *Controller
	provider model.Provider
	req      model.Request
	asm      *assembler.Assembler

	draftID      string
	prefix       assembler.Draft // reply text before a tool continuation
	continuing   bool
	backendTools bool
}

func (c *Controller) exchange(ctx context.Context, p model.Provider, req model.Request) error {
	metrics.ExchangesActive.Inc()
	defer metrics.ExchangesActive.Dec()

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Dispatch] Sending %d messages to %s (tools: %d, agent: %t)",
			len(req.Messages), req.Model, len(req.Tools), req.Agent != "")
	}

	ex := &exchange{c: c, provider: p, req: req, asm: assembler.New()}

	err := p.Stream(ctx, req, ex.apply)
	if err == nil {
		draft := ex.asm.Finalize()
		err = ex.publish(draft)
		if err == nil && ex.wantsTools(draft) {
			err = ex.runTools(ctx, draft)
		}
	}

	if err != nil {
		return ex.fail(err)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Dispatch] Exchange finished: message %s", ex.draftID)
	}
	return nil
}

// apply is the fragment handler for both the reply and a tool continuation
func (ex *exchange) apply(f model.Fragment) error {
	metrics.ObserveFragment(f.Content != "", f.Reasoning != "", len(f.ToolCalls) > 0, f.ToolStatus != nil)

	draft := ex.asm.Apply(f)
	if err := ex.publish(draft); err != nil {
		return err
	}

	if f.ToolStatus != nil {
		ex.backendTools = true
		if _, err := ex.c.tracker.Apply(ex.draftID, *f.ToolStatus); err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Dispatch] Ignoring tool status %s for %s: %v", f.ToolStatus.State, ex.draftID, err)
			}
		}
	}

	if len(f.ToolCalls) > 0 && ex.clientTools() {
		if names := ex.requestedNames(draft); len(names) > 0 {
			ex.decide(names)
		}
	}
	return nil
}

// clientTools reports whether requested tool calls are run locally
func (ex *exchange) clientTools() bool {
	return ex.c.executor != nil && len(ex.req.Tools) > 0 && !ex.backendTools && !ex.continuing
}

// requested reports whether name is one of the tools offered in the request
func (ex *exchange) requested(name string) bool {
	if name == "" {
		return false
	}
	for _, spec := range ex.req.Tools {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// requestedNames lists the draft's tool names that were offered. Calls
// without a name or naming an unknown tool stay plain reasoning.
func (ex *exchange) requestedNames(draft assembler.Draft) []string {
	var names []string
	for _, name := range draft.ToolNames() {
		if ex.requested(name) {
			names = append(names, name)
		}
	}
	return names
}

func (ex *exchange) decide(names []string) {
	tracker := ex.c.tracker
	inv, ok := tracker.ForMessage(ex.draftID)
	var err error
	switch {
	case !ok:
		_, err = tracker.Begin(ex.draftID, names...)
	case inv.Status.State == model.ToolDecided:
		_, err = tracker.AddTools(inv.ID, names...)
	}
	if err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[Dispatch] Failed to record tool intent for %s: %v", ex.draftID, err)
	}
}

func (ex *exchange) wantsTools(draft assembler.Draft) bool {
	if !ex.clientTools() || len(ex.requestedNames(draft)) == 0 {
		return false
	}
	inv, ok := ex.c.tracker.ForMessage(ex.draftID)
	return ok && inv.Status.State == model.ToolDecided
}

// runTools executes the requested calls, sends the results back and streams
// the continuation into the same message.
func (ex *exchange) runTools(ctx context.Context, draft assembler.Draft) error {
	tracker := ex.c.tracker
	inv, _ := tracker.ForMessage(ex.draftID)

	if _, err := tracker.Advance(inv.ID, model.ToolExecuting); err != nil {
		return model.NewToolError("failed to start tool execution", err)
	}

	results := make([]string, 0, len(draft.ToolCalls))
	for _, call := range draft.ToolCalls {
		if !ex.requested(call.Name) {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Dispatch] Skipping unrequested tool call %q", call.Name)
			}
			continue
		}

		if config.DebugLog != nil {
			config.DebugLog.Printf("[Dispatch] Calling tool %s", call.Name)
		}
		out, err := ex.c.executor.Call(ctx, call)
		metrics.ObserveTool(call.Name, err)
		if err != nil {
			return model.NewToolError(fmt.Sprintf("tool %s failed", call.Name), err)
		}
		results = append(results, formatToolResult(call, out))
	}

	if _, err := tracker.Advance(inv.ID, model.ToolProcessing); err != nil {
		return model.NewToolError("failed to record tool results", err)
	}
	if _, err := tracker.SetMessage(inv.ID, fmt.Sprintf("Processing %d tool result(s)", len(results))); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[Dispatch] Failed to set tool status message for %s: %v", ex.draftID, err)
	}

	follow := ex.req
	follow.Tools = nil
	follow.Messages = append(append([]model.Message(nil), ex.req.Messages...),
		model.Message{Role: model.RoleAssistant, Text: toolRequestText(draft)},
		model.Message{Role: model.RoleUser, Text: strings.Join(results, "\n\n")},
	)

	ex.prefix = draft
	ex.asm = assembler.New()
	ex.continuing = true

	if err := ex.provider.Stream(ctx, follow, ex.apply); err != nil {
		return err
	}
	if err := ex.publish(ex.asm.Finalize()); err != nil {
		return err
	}

	if _, err := tracker.Advance(inv.ID, model.ToolFinished); err != nil {
		return model.NewToolError("failed to finish tool invocation", err)
	}
	return nil
}

func formatToolResult(call model.ToolCall, output string) string {
	return fmt.Sprintf("Tool result for %s:\n%s", call.Name, output)
}

func toolRequestText(draft assembler.Draft) string {
	if strings.TrimSpace(draft.Content) != "" {
		return draft.Content
	}
	var calls []string
	for _, call := range draft.ToolCalls {
		calls = append(calls, fmt.Sprintf("%s(%s)", call.Name, call.Arguments))
	}
	return "Calling tools: " + strings.Join(calls, ", ")
}

// merge joins a continuation draft to the reply it continues
func (ex *exchange) merge(draft assembler.Draft) assembler.Draft {
	if !ex.continuing {
		return draft
	}
	return assembler.Draft{
		Content:   joinNonEmpty(ex.prefix.Content, draft.Content),
		Reasoning: joinNonEmpty(ex.prefix.Reasoning, draft.Reasoning),
		ToolCalls: ex.prefix.ToolCalls,
	}
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}

// publish writes the draft into the conversation
func (ex *exchange) publish(draft assembler.Draft) error {
	draft = ex.merge(draft)
	msg := model.Message{
		Role:      model.RoleAssistant,
		Text:      draft.Content,
		Reasoning: draft.Reasoning,
	}
	return ex.write(msg)
}

// write appends the message on first use and replaces it afterwards,
// carrying the current tool status along
func (ex *exchange) write(msg model.Message) error {
	store := ex.c.store

	if ex.draftID == "" {
		stored, err := store.Append(msg)
		if stored.ID == "" {
			return fmt.Errorf("failed to store reply: %w", err)
		}
		ex.draftID = stored.ID
		return nil
	}

	if inv, ok := ex.c.tracker.ForMessage(ex.draftID); ok {
		status := inv.Status.Clone()
		msg.ToolStatus = &status
	}
	err := store.ReplaceByID(ex.draftID, msg)
	if err != nil && !errors.Is(err, conversation.ErrPersist) {
		return fmt.Errorf("failed to update reply: %w", err)
	}
	return nil
}

// fail ends the exchange. A tool failure keeps the reply with its tool status
// in error; any other failure replaces the draft with a diagnostic message.
func (ex *exchange) fail(err error) error {
	if model.KindOf(err) == "" {
		err = model.NewTransportError("exchange failed", err)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Dispatch] Exchange failed: %v", err)
	}

	if ex.draftID != "" {
		if inv, ok := ex.c.tracker.ForMessage(ex.draftID); ok && !inv.Frozen() {
			ex.c.tracker.Fail(inv.ID, err)
		}
	}

	if model.KindOf(err) == model.ErrorKindTool {
		return err
	}

	diag := model.Message{Role: model.RoleAssistant, Text: model.Diagnostic(err)}
	if werr := ex.write(diag); werr != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Dispatch] Failed to store diagnostic: %v", werr)
		}
		// The draft may have been deleted mid-stream; fall back to a new message.
		ex.draftID = ""
		if werr := ex.write(diag); werr != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[Dispatch] Diagnostic was not stored: %v", werr)
		}
	}
	return err
}
