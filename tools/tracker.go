// Package tools tracks the lifecycle of tool invocations requested by the
// model mid-response.
//
// An Invocation is its own entity referencing the assistant message that owns
// it. The state machine is decided -> executing -> processing -> finished,
// with any non-terminal state allowed to move to error. Terminal invocations
// are frozen.
package tools

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"parley/model"
)

var (
	ErrNotFound          = errors.New("tool invocation not found")
	ErrFrozen            = errors.New("tool invocation is frozen")
	ErrInvalidTransition = errors.New("invalid tool state transition")
	ErrAlreadyTracked    = errors.New("message already owns a tool invocation")
)

// Invocation is one tool round attached to an assistant message
type Invocation struct {
	ID        string
	MessageID string
	Status    model.ToolStatus
}

// Frozen reports whether the invocation reached a terminal state
func (inv Invocation) Frozen() bool {
	return inv.Status.State.IsTerminal()
}

// ChangeFunc observes every accepted change to an invocation
type ChangeFunc func(Invocation)

// Tracker owns every invocation of a conversation. Each message owns at most
// one invocation; a new exchange always creates a new message, and with it a
// fresh invocation.
type Tracker struct {
	mu        sync.Mutex
	byID      map[string]*Invocation
	byMessage map[string]string
	onChange  ChangeFunc
}

// NewTracker creates a tracker. onChange may be nil.
func NewTracker(onChange ChangeFunc) *Tracker {
	return &Tracker{
		byID:      make(map[string]*Invocation),
		byMessage: make(map[string]string),
		onChange:  onChange,
	}
}

// Begin records tool intent for a message and returns the decided invocation
func (t *Tracker) Begin(messageID string, toolNames ...string) (Invocation, error) {
	t.mu.Lock()
	if _, exists := t.byMessage[messageID]; exists {
		t.mu.Unlock()
		return Invocation{}, fmt.Errorf("%w: %s", ErrAlreadyTracked, messageID)
	}

	inv := &Invocation{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Status:    model.ToolStatus{State: model.ToolDecided},
	}
	inv.Status.AddTools(toolNames...)
	t.byID[inv.ID] = inv
	t.byMessage[messageID] = inv.ID
	out := clone(inv)
	t.mu.Unlock()

	t.notify(out)
	return out, nil
}

// Advance moves an invocation to the next state
func (t *Tracker) Advance(id string, to model.ToolState) (Invocation, error) {
	return t.update(id, func(inv *Invocation) error {
		if err := model.ValidateToolTransition(inv.Status.State, to); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		inv.Status.State = to
		return nil
	})
}

// Fail moves an invocation to error and records the failure text
func (t *Tracker) Fail(id string, cause error) (Invocation, error) {
	return t.update(id, func(inv *Invocation) error {
		inv.Status.State = model.ToolError
		if cause != nil {
			inv.Status.Error = cause.Error()
		}
		return nil
	})
}

// SetMessage replaces the free-text progress message; only valid while processing
func (t *Tracker) SetMessage(id, text string) (Invocation, error) {
	return t.update(id, func(inv *Invocation) error {
		if inv.Status.State != model.ToolProcessing {
			return fmt.Errorf("%w: message can only be set while processing, state is %s",
				ErrInvalidTransition, inv.Status.State)
		}
		inv.Status.Message = text
		return nil
	})
}

// AddTools merges tool names into a live invocation
func (t *Tracker) AddTools(id string, names ...string) (Invocation, error) {
	return t.update(id, func(inv *Invocation) error {
		inv.Status.AddTools(names...)
		return nil
	})
}

// Apply reconciles a status reported by the backend with the tracked
// invocation of a message, starting one if the message has none yet. A
// reported state that would skip a transition is rejected.
func (t *Tracker) Apply(messageID string, reported model.ToolStatus) (Invocation, error) {
	inv, ok := t.ForMessage(messageID)
	if !ok {
		if reported.State != model.ToolDecided {
			return Invocation{}, fmt.Errorf("%w: first reported state must be %s, got %s",
				ErrInvalidTransition, model.ToolDecided, reported.State)
		}
		return t.Begin(messageID, reported.Tools...)
	}

	return t.update(inv.ID, func(cur *Invocation) error {
		if reported.State != "" && reported.State != cur.Status.State {
			if err := model.ValidateToolTransition(cur.Status.State, reported.State); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
			}
			cur.Status.State = reported.State
		}
		cur.Status.AddTools(reported.Tools...)
		if reported.Message != "" && cur.Status.State == model.ToolProcessing {
			cur.Status.Message = reported.Message
		}
		if reported.Error != "" && cur.Status.State == model.ToolError {
			cur.Status.Error = reported.Error
		}
		return nil
	})
}

// Get returns an invocation by id
func (t *Tracker) Get(id string) (Invocation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inv, ok := t.byID[id]
	if !ok {
		return Invocation{}, false
	}
	return clone(inv), true
}

// ForMessage returns the invocation owned by a message
func (t *Tracker) ForMessage(messageID string) (Invocation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byMessage[messageID]
	if !ok {
		return Invocation{}, false
	}
	return clone(t.byID[id]), true
}

// Forget drops the invocation owned by a message, e.g. when the message is
// deleted by regenerate.
func (t *Tracker) Forget(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byMessage[messageID]; ok {
		delete(t.byID, id)
		delete(t.byMessage, messageID)
	}
}

func (t *Tracker) update(id string, fn func(*Invocation) error) (Invocation, error) {
	t.mu.Lock()
	inv, ok := t.byID[id]
	if !ok {
		t.mu.Unlock()
		return Invocation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if inv.Frozen() {
		t.mu.Unlock()
		return clone(inv), fmt.Errorf("%w: %s is %s", ErrFrozen, id, inv.Status.State)
	}

	next := clone(inv)
	if err := fn(&next); err != nil {
		t.mu.Unlock()
		return clone(inv), err
	}
	*inv = next
	out := clone(inv)
	t.mu.Unlock()

	t.notify(out)
	return out, nil
}

func (t *Tracker) notify(inv Invocation) {
	if t.onChange != nil {
		t.onChange(inv)
	}
}

func clone(inv *Invocation) Invocation {
	out := *inv
	out.Status = inv.Status.Clone()
	return out
}
