package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"parley/config"
	"parley/model"
)

// SSEProvider streams from any endpoint that accepts the outbound request as
// JSON and answers with "data: <fragment>" server-sent events terminated by
// "data: [DONE]".
type SSEProvider struct {
	mu         sync.RWMutex
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewSSEProvider creates a generic SSE provider. The API key is optional and
// sent as a bearer token when set.
func NewSSEProvider(baseURL, apiKey, model string) (*SSEProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("SSE provider requires a base URL")
	}
	return &SSEProvider{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}, nil
}

type sseRequest struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []sseTool       `json:"tools,omitempty"`
	Agent    string          `json:"agent,omitempty"`
}

type sseTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type sseFragment struct {
	Content    string            `json:"content"`
	Reasoning  string            `json:"reasoning"`
	ToolCalls  []sseToolCall     `json:"tool_calls"`
	ToolStatus *model.ToolStatus `json:"tool_status"`
}

type sseToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type sseErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Stream implements model.Provider.Stream.
func (p *SSEProvider) Stream(ctx context.Context, req model.Request, handler model.FragmentHandler) error {
	body := sseRequest{
		Model:    modelOr(req.Model, p.GetModel()),
		Messages: req.Messages,
		Stream:   true,
		Agent:    req.Agent,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, sseTool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return model.NewTransportError("failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	p.authorize(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return MapNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return MapHTTPError(resp)
	}

	return ParseSSEStream(ctx, resp.Body, handler)
}

// ParseSSEStream reads fragments from body and hands each to handler.
//
// SSE format expected:
//
//	data: {"content":"..."}\n
//	\n
//	data: [DONE]\n
//
// Lines that are not data lines are ignored. A malformed payload is a parse
// error. A body that closes without [DONE] ends the stream normally.
func ParseSSEStream(ctx context.Context, body io.Reader, handler model.FragmentHandler) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return model.NewTransportError("stream cancelled", err)
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}

		frag, err := decodeFragment(payload)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[SSE] Malformed fragment: %s", truncate(payload, 200))
			}
			return err
		}
		if frag.IsEmpty() {
			continue
		}
		if err := handler(frag); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return model.NewTransportError("stream cancelled", ctx.Err())
		}
		return model.NewTransportError("SSE stream read error", err)
	}
	if config.DebugLog != nil {
		config.DebugLog.Printf("[SSE] Stream closed without [DONE]")
	}
	return nil
}

func decodeFragment(payload string) (model.Fragment, error) {
	var wire sseFragment
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return model.Fragment{}, model.NewParseError("malformed fragment", err)
	}

	frag := model.Fragment{
		Content:    wire.Content,
		Reasoning:  wire.Reasoning,
		ToolStatus: wire.ToolStatus,
	}
	for i, tc := range wire.ToolCalls {
		idx := tc.Index
		if idx == 0 {
			idx = i
		}
		frag.ToolCalls = append(frag.ToolCalls, model.ToolCallDelta{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return frag, nil
}

// ListModels implements model.Provider.ListModels via GET {base}/models,
// expecting capability descriptors: [{"id","supports_tools","supports_images","supports_files"}].
// A {"data": [...]} envelope is accepted too.
func (p *SSEProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, model.NewTransportError("failed to build request", err)
	}
	p.authorize(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, MapHTTPError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewTransportError("failed to read model list", err)
	}

	var models []model.ModelInfo
	if err := json.Unmarshal(data, &models); err != nil {
		var envelope struct {
			Data []model.ModelInfo `json:"data"`
		}
		if err2 := json.Unmarshal(data, &envelope); err2 != nil {
			return nil, model.NewParseError("malformed model list", err)
		}
		models = envelope.Data
	}

	for i := range models {
		models[i].Provider = "sse"
		if models[i].Name == "" {
			models[i].Name = models[i].InternalName
		}
	}
	return models, nil
}

// GetModel implements model.Provider.GetModel.
func (p *SSEProvider) GetModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// GetDisplayName implements model.Provider.GetDisplayName.
func (p *SSEProvider) GetDisplayName() string {
	return p.GetModel()
}

// SetModel implements model.Provider.SetModel.
func (p *SSEProvider) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

// Ping implements model.Provider.Ping by listing models with a short timeout.
func (p *SSEProvider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.ListModels(ctx)
	return err
}

func (p *SSEProvider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// MapHTTPError converts a non-2xx response into a transport error, using the
// backend's error message when the body carries one.
func MapHTTPError(resp *http.Response) *model.ExchangeError {
	message := extractErrorMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if message == "" {
			message = "backend authentication failed"
		}
	case resp.StatusCode == http.StatusNotFound:
		if message == "" {
			message = "backend resource not found"
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		if message == "" {
			message = "backend rate limit exceeded"
		}
	case message == "":
		message = "unexpected backend response"
	}

	return model.NewTransportError(fmt.Sprintf("%s (HTTP %d)", message, resp.StatusCode), nil)
}

// MapNetworkError converts a connection failure into a transport error.
func MapNetworkError(err error) *model.ExchangeError {
	return model.NewTransportError("backend connection error", err)
}

func extractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var errResp sseErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
