// Package dispatch runs message exchanges: it turns a user submission into a
// streaming request, folds the response fragments into one assistant message
// and coordinates tool invocations the model asks for.
//
// Only one exchange may be in flight. Send and Regenerate return ErrBusy
// while another exchange holds the guard, and change nothing.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"parley/capability"
	"parley/config"
	"parley/conversation"
	"parley/metrics"
	"parley/model"
	"parley/tools"
)

var ErrBusy = errors.New("an exchange is already in progress")

// Submission is one user turn.
type Submission struct {
	Text       string
	Images     []string // pre-validated image URLs, data: or remote
	Transcript string   // audio transcription, sent as plain user text
	Agent      string   // system prompt override for this turn only
	Tools      []string // names of the tools the model may call
}

// ToolExecutor runs tool calls on behalf of the model
type ToolExecutor interface {
	Tools() []model.ToolSpec
	Call(ctx context.Context, call model.ToolCall) (string, error)
}

// CapabilitySource yields the capability policy of the active provider
type CapabilitySource interface {
	Policy() capability.Policy
}

// Config wires a Controller to its collaborators. Executor, Capabilities and
// HasKey are optional. Tools seeds the tool selection Regenerate uses before
// the first Send, typically a resumed session's enabled tools.
type Config struct {
	Store        *conversation.Store
	Provider     model.Provider
	ProviderID   string
	Executor     ToolExecutor
	Capabilities CapabilitySource
	HasKey       func(providerID string) bool
	Tools        []string
}

// turn is what Regenerate needs to resend the previous request
type turn struct {
	agent string
	tools []string
}

// Controller is the single-flight dispatcher of one conversation.
type Controller struct {
	store    *conversation.Store
	tracker  *tools.Tracker
	executor ToolExecutor
	caps     CapabilitySource
	hasKey   func(string) bool

	busy atomic.Bool

	mu         sync.RWMutex
	provider   model.Provider
	providerID string
	last       turn
}

// New creates a controller
func New(cfg Config) *Controller {
	c := &Controller{
		store:      cfg.Store,
		executor:   cfg.Executor,
		caps:       cfg.Capabilities,
		hasKey:     cfg.HasKey,
		provider:   cfg.Provider,
		providerID: cfg.ProviderID,
		last:       turn{tools: append([]string(nil), cfg.Tools...)},
	}
	c.tracker = tools.NewTracker(c.projectInvocation)
	return c
}

// Busy reports whether an exchange is in flight
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// Tracker exposes the tool invocations of the conversation
func (c *Controller) Tracker() *tools.Tracker {
	return c.tracker
}

// SetProvider switches the provider used by subsequent exchanges
func (c *Controller) SetProvider(p model.Provider, providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = p
	c.providerID = providerID
}

// Provider returns the active provider and its id
func (c *Controller) Provider() (model.Provider, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider, c.providerID
}

// Send appends the user's message and streams the assistant reply.
//
// A submission with no text, transcript or image, or one asking for an
// attachment or tool the model does not support, fails with a validation
// error before anything is stored or sent.
func (c *Controller) Send(ctx context.Context, sub Submission) error {
	if !c.busy.CompareAndSwap(false, true) {
		c.observeBusy()
		return ErrBusy
	}
	defer c.busy.Store(false)

	p, providerID := c.Provider()
	start := time.Now()

	userMsg, err := buildUserMessage(sub)
	if err != nil {
		c.observe(providerID, p, err, start)
		return err
	}
	specs, err := c.resolveTools(sub.Tools)
	if err != nil {
		c.observe(providerID, p, err, start)
		return err
	}
	if err := c.checkCapabilities(p, providerID, len(sub.Images) > 0, len(specs) > 0); err != nil {
		c.observe(providerID, p, err, start)
		return err
	}

	if _, err := c.store.Append(userMsg); err != nil && !errors.Is(err, conversation.ErrPersist) {
		return fmt.Errorf("failed to store user message: %w", err)
	}

	c.mu.Lock()
	c.last = turn{agent: sub.Agent, tools: append([]string(nil), sub.Tools...)}
	c.mu.Unlock()

	err = c.exchange(ctx, p, model.Request{
		Model:    p.GetModel(),
		Messages: c.store.List(),
		Stream:   true,
		Tools:    specs,
		Agent:    sub.Agent,
	})
	c.observe(providerID, p, err, start)
	return err
}

// Regenerate drops a trailing assistant message, if any, and resends the
// remaining history with the previous turn's agent and tools.
func (c *Controller) Regenerate(ctx context.Context) error {
	if !c.busy.CompareAndSwap(false, true) {
		c.observeBusy()
		return ErrBusy
	}
	defer c.busy.Store(false)

	p, providerID := c.Provider()
	start := time.Now()

	c.mu.RLock()
	last := c.last
	c.mu.RUnlock()

	history := c.store.List()
	var drop *model.Message
	if tail := history[len(history)-1]; tail.Role == model.RoleAssistant {
		drop = &tail
		history = history[:len(history)-1]
	}
	if history[len(history)-1].Role != model.RoleUser {
		err := model.NewValidationError("nothing to regenerate")
		c.observe(providerID, p, err, start)
		return err
	}

	specs, err := c.resolveTools(last.tools)
	if err != nil {
		c.observe(providerID, p, err, start)
		return err
	}
	if err := c.checkCapabilities(p, providerID, anyImages(history), len(specs) > 0); err != nil {
		c.observe(providerID, p, err, start)
		return err
	}

	if drop != nil {
		if err := c.store.Delete(drop.ID); err != nil && !errors.Is(err, conversation.ErrPersist) {
			return fmt.Errorf("failed to drop previous reply: %w", err)
		}
		c.tracker.Forget(drop.ID)
	}

	err = c.exchange(ctx, p, model.Request{
		Model:    p.GetModel(),
		Messages: c.store.List(),
		Stream:   true,
		Tools:    specs,
		Agent:    last.agent,
	})
	c.observe(providerID, p, err, start)
	return err
}

func anyImages(msgs []model.Message) bool {
	for _, m := range msgs {
		if m.HasImages() {
			return true
		}
	}
	return false
}

func buildUserMessage(sub Submission) (model.Message, error) {
	var parts []string
	if text := strings.TrimSpace(sub.Text); text != "" {
		parts = append(parts, sub.Text)
	}
	if transcript := strings.TrimSpace(sub.Transcript); transcript != "" {
		parts = append(parts, transcript)
	}
	text := strings.Join(parts, "\n\n")

	if text == "" && len(sub.Images) == 0 {
		return model.Message{}, model.NewValidationError("message is empty")
	}

	msg := model.Message{Role: model.RoleUser}
	if len(sub.Images) == 0 {
		msg.Text = text
		return msg, nil
	}

	if text != "" {
		msg.Parts = append(msg.Parts, model.TextPart(text))
	}
	for _, url := range sub.Images {
		if url == "" {
			return model.Message{}, model.NewValidationError("image attachment without url")
		}
		msg.Parts = append(msg.Parts, model.ImagePart(url))
	}
	return msg, nil
}

func (c *Controller) resolveTools(names []string) ([]model.ToolSpec, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if c.executor == nil {
		return nil, model.NewValidationError("tools requested but no tool executor is configured")
	}

	available := make(map[string]model.ToolSpec)
	for _, spec := range c.executor.Tools() {
		available[spec.Name] = spec
	}

	specs := make([]model.ToolSpec, 0, len(names))
	for _, name := range names {
		spec, ok := available[name]
		if !ok {
			return nil, model.NewValidationError(fmt.Sprintf("unknown tool %q", name))
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// checkCapabilities re-validates attachments and tools against the policy so
// a stale selection can't reach a model that rejects it.
func (c *Controller) checkCapabilities(p model.Provider, providerID string, images, tools bool) error {
	if c.caps == nil || (!images && !tools) {
		return nil
	}

	policy := c.caps.Policy()
	modelID := p.GetModel()
	keyPresent := c.hasKey == nil || c.hasKey(providerID)

	if images && !policy.IsEnabled(capability.ImageAttach, modelID, providerID, keyPresent) {
		return model.NewValidationError(fmt.Sprintf("model %s does not accept images", modelID))
	}
	if tools && !policy.IsEnabled(capability.ToolActivation, modelID, providerID, keyPresent) {
		return model.NewValidationError(fmt.Sprintf("model %s does not support tools", modelID))
	}
	return nil
}

// projectInvocation mirrors every invocation change onto the owning message
func (c *Controller) projectInvocation(inv tools.Invocation) {
	msg, ok := c.store.Get(inv.MessageID)
	if !ok {
		return
	}
	status := inv.Status.Clone()
	msg.ToolStatus = &status
	if err := c.store.ReplaceByID(msg.ID, msg); err != nil && !errors.Is(err, conversation.ErrPersist) {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Dispatch] Failed to project tool status onto %s: %v", inv.MessageID, err)
		}
	}
}

func (c *Controller) observe(providerID string, p model.Provider, err error, start time.Time) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = string(model.KindOf(err))
		if outcome == "" {
			outcome = metrics.OutcomeTransport
		}
	}
	metrics.ObserveExchange(providerID, p.GetModel(), outcome, time.Since(start))
}

func (c *Controller) observeBusy() {
	p, providerID := c.Provider()
	metrics.ObserveExchange(providerID, p.GetModel(), metrics.OutcomeBusy, 0)
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Dispatch] Ignoring request: exchange in progress")
	}
}
