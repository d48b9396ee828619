package storage

import (
	"sync"

	"parley/model"
)

// SessionPersister writes the conversation log of one session on every change
type SessionPersister struct {
	mu      sync.Mutex
	storage *SessionStorage
	session *Session
}

// NewSessionPersister binds a session to its storage. The session is owned
// by the persister from then on; read it back through Session.
func NewSessionPersister(storage *SessionStorage, session *Session) *SessionPersister {
	return &SessionPersister{storage: storage, session: session}
}

// SaveMessages replaces the session's messages and writes it to disk. An
// unnamed session is named after its first user message.
func (p *SessionPersister) SaveMessages(messages []model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.session.Messages = messages
	if p.session.Name == "" {
		if first := p.session.FirstUserText(); first != "" {
			p.session.Name = GenerateSessionName(first)
		}
	}
	return p.storage.Save(p.session)
}

// Update applies fn to the session and saves it
func (p *SessionPersister) Update(fn func(*Session)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(p.session)
	return p.storage.Save(p.session)
}

// Session returns a copy of the session's metadata and messages
func (p *SessionPersister) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := *p.session
	out.Messages = append([]model.Message(nil), p.session.Messages...)
	out.EnabledTools = append([]string(nil), p.session.EnabledTools...)
	return out
}
