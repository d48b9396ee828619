package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
)

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("", "")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.GetModel() != "llama3.1:latest" || c.BaseURL() != "http://localhost:11434" {
		t.Errorf("defaults = %q, %q", c.GetModel(), c.BaseURL())
	}

	c.SetModel("qwen3:8b")
	if c.GetModel() != "qwen3:8b" {
		t.Errorf("SetModel() not applied")
	}

	if _, err := NewClient("://bad", ""); err == nil {
		t.Error("NewClient(invalid url) error = nil")
	}
}

func TestChatWithToolsStreamsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req api.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "qwen3:8b" {
			t.Errorf("model = %q", req.Model)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		enc.Encode(api.ChatResponse{Model: req.Model, Message: api.Message{Role: "assistant", Thinking: "hmm"}})
		enc.Encode(api.ChatResponse{Model: req.Model, Message: api.Message{Role: "assistant", Content: "4"}})
		enc.Encode(api.ChatResponse{Model: req.Model, Done: true})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "qwen3:8b")
	if err != nil {
		t.Fatal(err)
	}

	var content, thinking string
	err = c.ChatWithTools(context.Background(), []api.Message{{Role: "user", Content: "2+2?"}}, nil, func(delta api.Message) error {
		content += delta.Content
		thinking += delta.Thinking
		return nil
	})
	if err != nil {
		t.Fatalf("ChatWithTools() error = %v", err)
	}
	if content != "4" || thinking != "hmm" {
		t.Errorf("content = %q, thinking = %q", content, thinking)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ListResponse{Models: []api.ListModelResponse{
			{Name: "llama3.1:latest", Size: 4_000_000_000},
			{Name: "llava:7b", Size: 4_500_000_000},
		}})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "")
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[1].Name != "llava:7b" {
		t.Errorf("ListModels() = %+v", models)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
