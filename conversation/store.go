// Package conversation holds the ordered message log of the active session.
//
// The store keeps exactly one system message and keeps it first. Every
// mutation re-checks that invariant, synthesizing the system message from the
// configured prompt when it is missing, and then persists the whole log
// synchronously. Changing the configured prompt does not rewrite an existing
// system message; only Reset replaces it.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/config"
	"parley/model"
)

var (
	ErrNotFound      = errors.New("message not found")
	ErrSystemMessage = errors.New("system message can only be replaced by reset")
	ErrDuplicateID   = errors.New("message id already present")
	ErrPersist       = errors.New("failed to persist conversation")
)

// Persister writes the full ordered message log
type Persister interface {
	SaveMessages(messages []model.Message) error
}

// PersisterFunc adapts a function to Persister
type PersisterFunc func(messages []model.Message) error

func (f PersisterFunc) SaveMessages(messages []model.Message) error {
	return f(messages)
}

// Store is the conversation log. It is safe for concurrent use; only the
// dispatch controller and explicit user edits mutate it.
type Store struct {
	mu        sync.RWMutex
	messages  []model.Message
	prompt    string
	persister Persister

	subMu   sync.Mutex
	subs    map[int]func([]model.Message)
	nextSub int
}

// NewStore creates a store holding only a system message built from prompt.
// persister may be nil for an in-memory conversation.
func NewStore(prompt string, persister Persister) *Store {
	s := &Store{
		prompt:    prompt,
		persister: persister,
		subs:      make(map[int]func([]model.Message)),
	}
	s.messages = []model.Message{s.systemMessage(prompt)}
	return s
}

// NewID returns a fresh opaque, monotonic message id
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Load replaces the in-memory log with messages read from storage. A message
// saved mid-stream whose tool status never reached a terminal state is forced
// to error, since its exchange can no longer complete.
func (s *Store) Load(messages []model.Message) {
	s.mu.Lock()
	loaded := make([]model.Message, 0, len(messages)+1)
	var system *model.Message
	for _, m := range messages {
		m = m.Clone()
		if m.Role == model.RoleSystem {
			if system == nil {
				system = &m
			}
			continue
		}
		if m.ToolStatus != nil && !m.ToolStatus.State.IsTerminal() {
			m.ToolStatus.State = model.ToolError
			m.ToolStatus.Error = "interrupted before completion"
		}
		loaded = append(loaded, m)
	}
	if system != nil {
		loaded = append([]model.Message{*system}, loaded...)
	}
	s.messages = loaded
	s.ensureSystemLocked()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// List returns a copy of the ordered log
func (s *Store) List() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Last returns the final message of the log
func (s *Store) Last() model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[len(s.messages)-1].Clone()
}

// Get returns a message by id
func (s *Store) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.messages[i].Clone(), true
	}
	return model.Message{}, false
}

// SystemPrompt returns the configured prompt used when a system message has
// to be synthesized
func (s *Store) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// SetSystemPrompt changes the configured prompt. The existing system message
// is deliberately left as it is.
func (s *Store) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	s.prompt = prompt
	s.mu.Unlock()
}

// Append adds a message to the end of the log, assigning an id and timestamp
// when missing, and returns the stored message. On ErrPersist the message is
// still returned since it was appended.
func (s *Store) Append(msg model.Message) (model.Message, error) {
	if msg.Role == model.RoleSystem {
		return model.Message{}, ErrSystemMessage
	}
	if err := msg.Validate(); err != nil {
		return model.Message{}, fmt.Errorf("invalid message: %w", err)
	}

	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	err := s.mutate(func() error {
		if s.indexLocked(msg.ID) >= 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
		}
		s.messages = append(s.messages, msg)
		return nil
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return model.Message{}, err
	}
	return msg.Clone(), err
}

// ReplaceByID swaps the message with the given id for msg, keeping its
// position and id
func (s *Store) ReplaceByID(id string, msg model.Message) error {
	if msg.Role == model.RoleSystem {
		return ErrSystemMessage
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	msg = msg.Clone()
	msg.ID = id

	return s.mutate(func() error {
		i := s.indexLocked(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if s.messages[i].Role == model.RoleSystem {
			return ErrSystemMessage
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = s.messages[i].Timestamp
		}
		s.messages[i] = msg
		return nil
	})
}

// Delete removes a non-system message
func (s *Store) Delete(id string) error {
	return s.mutate(func() error {
		i := s.indexLocked(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if s.messages[i].Role == model.RoleSystem {
			return ErrSystemMessage
		}
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
		return nil
	})
}

// Reset clears the conversation down to a single system message holding
// prompt, which also becomes the configured prompt.
func (s *Store) Reset(prompt string) error {
	return s.mutate(func() error {
		s.prompt = prompt
		s.messages = []model.Message{s.systemMessage(prompt)}
		return nil
	})
}

// Subscribe registers fn to receive a copy of the log after every change.
// The returned function unsubscribes.
func (s *Store) Subscribe(fn func([]model.Message)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// mutate applies fn under the write lock, restores the system message
// invariant and persists the full log. A persistence failure is returned but
// the in-memory change stands.
func (s *Store) mutate(fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.ensureSystemLocked()
	snapshot := s.snapshotLocked()

	var persistErr error
	if s.persister != nil {
		persistErr = s.persister.SaveMessages(snapshot)
	}
	s.mu.Unlock()

	if persistErr != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Store] Failed to persist %d messages: %v", len(snapshot), persistErr)
		}
		persistErr = fmt.Errorf("%w: %w", ErrPersist, persistErr)
	}

	s.notify(snapshot)
	return persistErr
}

func (s *Store) ensureSystemLocked() {
	if len(s.messages) > 0 && s.messages[0].Role == model.RoleSystem {
		return
	}
	s.messages = append([]model.Message{s.systemMessage(s.prompt)}, s.messages...)
}

func (s *Store) systemMessage(prompt string) model.Message {
	return model.Message{
		ID:        NewID(),
		Role:      model.RoleSystem,
		Text:      prompt,
		Timestamp: time.Now(),
	}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []model.Message {
	out := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) notify(snapshot []model.Message) {
	s.subMu.Lock()
	fns := make([]func([]model.Message), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}
