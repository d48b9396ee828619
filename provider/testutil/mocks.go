package testutil

import (
	"context"
	"sync"

	"parley/model"
)

// Turn is one scripted Stream call: the fragments to emit, then Err.
type Turn struct {
	Fragments []model.Fragment
	Err       error
}

// MockProvider implements model.Provider for testing.
//
// Each Stream call consumes the next scripted Turn; once the script is
// exhausted a single "Mock response" fragment is emitted. Every request is
// recorded. When Gate is set, Stream signals Started and blocks until Gate
// is closed or the context ends.
type MockProvider struct {
	// Configurable responses
	StreamFunc     func(ctx context.Context, req model.Request, handler model.FragmentHandler) error
	ListModelsFunc func(ctx context.Context) ([]model.ModelInfo, error)
	PingFunc       func(ctx context.Context) error

	Gate    chan struct{}
	Started chan struct{}

	mu           sync.Mutex
	turns        []Turn
	requests     []model.Request
	currentModel string
}

// NewMockProvider creates a mock provider with default implementations
func NewMockProvider(modelName string, turns ...Turn) *MockProvider {
	mock := &MockProvider{
		currentModel: modelName,
		turns:        turns,
	}
	mock.StreamFunc = mock.defaultStream
	mock.ListModelsFunc = mock.defaultListModels
	mock.PingFunc = mock.defaultPing
	return mock
}

// Script appends turns to the queue
func (m *MockProvider) Script(turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

// Requests returns every request received so far
func (m *MockProvider) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Request(nil), m.requests...)
}

// LastRequest returns the most recent request, or the zero value
func (m *MockProvider) LastRequest() model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return model.Request{}
	}
	return m.requests[len(m.requests)-1]
}

func (m *MockProvider) nextTurn() Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.turns) == 0 {
		return Turn{Fragments: []model.Fragment{{Content: "Mock response"}}}
	}
	t := m.turns[0]
	m.turns = m.turns[1:]
	return t
}

func (m *MockProvider) defaultStream(ctx context.Context, req model.Request, handler model.FragmentHandler) error {
	if m.Gate != nil {
		if m.Started != nil {
			m.Started <- struct{}{}
		}
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return model.NewTransportError("stream cancelled", ctx.Err())
		}
	}

	turn := m.nextTurn()
	for _, f := range turn.Fragments {
		if err := handler(f); err != nil {
			return err
		}
	}
	return turn.Err
}

func (m *MockProvider) defaultListModels(ctx context.Context) ([]model.ModelInfo, error) {
	return []model.ModelInfo{
		{Name: "mock-model-1", InternalName: "mock-model-1", Provider: "mock", Size: 1000, SupportsTools: true},
		{Name: "mock-model-2", InternalName: "mock-model-2", Provider: "mock", Size: 2000},
	}, nil
}

func (m *MockProvider) defaultPing(ctx context.Context) error {
	return nil
}

func (m *MockProvider) Stream(ctx context.Context, req model.Request, handler model.FragmentHandler) error {
	m.mu.Lock()
	m.requests = append(m.requests, cloneRequest(req))
	m.mu.Unlock()
	return m.StreamFunc(ctx, req, handler)
}

func (m *MockProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	return m.ListModelsFunc(ctx)
}

func (m *MockProvider) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentModel
}

func (m *MockProvider) GetDisplayName() string {
	return m.GetModel()
}

func (m *MockProvider) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentModel = model
}

func (m *MockProvider) Ping(ctx context.Context) error {
	return m.PingFunc(ctx)
}

func cloneRequest(req model.Request) model.Request {
	out := req
	out.Messages = make([]model.Message, len(req.Messages))
	for i, msg := range req.Messages {
		out.Messages[i] = msg.Clone()
	}
	out.Tools = append([]model.ToolSpec(nil), req.Tools...)
	return out
}
