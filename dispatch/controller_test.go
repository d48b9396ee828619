package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"parley/capability"
	"parley/conversation"
	"parley/model"
	"parley/provider/testutil"
)

type fakeExecutor struct {
	mu    sync.Mutex
	specs []model.ToolSpec
	calls []model.ToolCall
	out   string
	err   error
}

func (f *fakeExecutor) Tools() []model.ToolSpec {
	return f.specs
}

func (f *fakeExecutor) Call(ctx context.Context, call model.ToolCall) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.out, f.err
}

type fixedCapabilities struct {
	policy capability.Policy
}

func (f fixedCapabilities) Policy() capability.Policy {
	return f.policy
}

func newController(t *testing.T, prompt string, p *testutil.MockProvider, exec ToolExecutor) (*Controller, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore(prompt, nil)
	c := New(Config{
		Store:      store,
		Provider:   p,
		ProviderID: "mock",
		Executor:   exec,
	})
	return c, store
}

func assistantMessages(msgs []model.Message) []model.Message {
	var out []model.Message
	for _, m := range msgs {
		if m.Role == model.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func TestSendScenarioA(t *testing.T) {
	p := testutil.NewMockProvider("mock-model", testutil.ContentTurn("4"))
	c, store := newController(t, "Respond in pt-BR", p, nil)

	if err := c.Send(context.Background(), Submission{Text: "2+2?"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs := store.List()
	if len(msgs) != 3 {
		t.Fatalf("len(List()) = %d, want 3: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != model.RoleSystem || msgs[0].Text != "Respond in pt-BR" {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleUser || msgs[1].Text != "2+2?" {
		t.Errorf("user message = %+v", msgs[1])
	}
	if msgs[2].Role != model.RoleAssistant || msgs[2].Text != "4" || msgs[2].Reasoning != "" {
		t.Errorf("assistant message = %+v", msgs[2])
	}
	if msgs[2].ID == "" || msgs[2].ToolStatus != nil {
		t.Errorf("assistant message id/tool status = %q / %+v", msgs[2].ID, msgs[2].ToolStatus)
	}

	req := p.LastRequest()
	if !req.Stream || req.Model != "mock-model" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[1].Text != "2+2?" {
		t.Errorf("request messages = %+v", req.Messages)
	}
	if c.Busy() {
		t.Error("Busy() = true after the exchange finished")
	}
}

func TestSendThinkScenarios(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
	}{
		{name: "scenario B single fragment", chunks: []string{"<think>because</think>4"}},
		{name: "scenario C split sentinel", chunks: []string{"<th", "ink>x</think>4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewMockProvider("mock-model", testutil.ContentTurn(tt.chunks...))
			c, store := newController(t, "sys", p, nil)

			if err := c.Send(context.Background(), Submission{Text: "2+2?"}); err != nil {
				t.Fatalf("Send() error = %v", err)
			}

			replies := assistantMessages(store.List())
			if len(replies) != 1 {
				t.Fatalf("assistant messages = %d, want 1", len(replies))
			}
			if replies[0].Text != "4" {
				t.Errorf("content = %q, want %q", replies[0].Text, "4")
			}
			want := "because"
			if strings.Contains(tt.chunks[len(tt.chunks)-1], "x</think>") {
				want = "x"
			}
			if replies[0].Reasoning != want {
				t.Errorf("reasoning = %q, want %q", replies[0].Reasoning, want)
			}
		})
	}
}

func TestDraftIsAppendedOnceAndUpdatedInPlace(t *testing.T) {
	p := testutil.NewMockProvider("mock-model", testutil.ContentTurn("a", "b", "c", "d"))
	c, store := newController(t, "sys", p, nil)

	var counts []int
	var ids []string
	unsubscribe := store.Subscribe(func(msgs []model.Message) {
		replies := assistantMessages(msgs)
		counts = append(counts, len(replies))
		if len(replies) > 0 {
			ids = append(ids, replies[0].ID)
		}
	})
	defer unsubscribe()

	if err := c.Send(context.Background(), Submission{Text: "go"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	for i, n := range counts {
		if n > 1 {
			t.Fatalf("update %d saw %d assistant messages", i, n)
		}
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("draft id changed from %s to %s", ids[0], id)
		}
	}
	if got := store.Last().Text; got != "abcd" {
		t.Errorf("final content = %q", got)
	}
}

func TestSendWhileBusyIsNoOp(t *testing.T) {
	p := testutil.NewMockProvider("mock-model", testutil.ContentTurn("done"))
	p.Gate = make(chan struct{})
	p.Started = make(chan struct{}, 1)
	c, store := newController(t, "sys", p, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Send(context.Background(), Submission{Text: "first"})
	}()

	select {
	case <-p.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("first exchange never started")
	}

	before := store.List()
	if !c.Busy() {
		t.Error("Busy() = false during an exchange")
	}
	if err := c.Send(context.Background(), Submission{Text: "second"}); !errors.Is(err, ErrBusy) {
		t.Errorf("second Send() error = %v, want ErrBusy", err)
	}
	if err := c.Regenerate(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Regenerate() error = %v, want ErrBusy", err)
	}
	if after := store.List(); len(after) != len(before) {
		t.Errorf("store changed while busy: %d -> %d messages", len(before), len(after))
	}

	close(p.Gate)
	if err := <-errc; err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if len(p.Requests()) != 1 {
		t.Errorf("provider requests = %d, want 1", len(p.Requests()))
	}
	if c.Busy() {
		t.Error("Busy() = true after the exchange finished")
	}
}

func TestRegenerateResendsHistoryWithoutTrailingReply(t *testing.T) {
	p := testutil.NewMockProvider("mock-model",
		testutil.ContentTurn("first answer"),
		testutil.ContentTurn("second answer"),
	)
	c, store := newController(t, "sys", p, nil)

	if err := c.Send(context.Background(), Submission{Text: "question", Agent: "Respond in pt-BR"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	firstReply := store.Last()

	if err := c.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}

	req := p.LastRequest()
	if len(req.Messages) != 2 {
		t.Fatalf("regenerate payload = %d messages, want 2: %+v", len(req.Messages), req.Messages)
	}
	if req.Messages[0].Role != model.RoleSystem || req.Messages[1].Text != "question" {
		t.Errorf("regenerate payload = %+v", req.Messages)
	}
	if req.Agent != "Respond in pt-BR" {
		t.Errorf("regenerate agent = %q", req.Agent)
	}

	msgs := store.List()
	replies := assistantMessages(msgs)
	if len(replies) != 1 || replies[0].Text != "second answer" {
		t.Fatalf("replies = %+v", replies)
	}
	if replies[0].ID == firstReply.ID {
		t.Error("regenerated reply should be a new message")
	}
	if len(msgs) != 3 {
		t.Errorf("len(List()) = %d, want 3", len(msgs))
	}
}

func TestRegenerateAfterUserMessageKeepsIt(t *testing.T) {
	p := testutil.NewMockProvider("mock-model", testutil.ContentTurn("answer"))
	c, store := newController(t, "sys", p, nil)
	store.Load([]model.Message{
		{Role: model.RoleSystem, Text: "sys"},
		{ID: "u1", Role: model.RoleUser, Text: "unanswered"},
	})

	if err := c.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}

	msgs := store.List()
	if len(msgs) != 3 || msgs[1].ID != "u1" || msgs[2].Text != "answer" {
		t.Errorf("List() = %+v", msgs)
	}
}

func TestRegenerateWithNothingToResend(t *testing.T) {
	p := testutil.NewMockProvider("mock-model")
	c, _ := newController(t, "sys", p, nil)

	err := c.Regenerate(context.Background())
	if model.KindOf(err) != model.ErrorKindValidation {
		t.Fatalf("Regenerate() error = %v, want validation error", err)
	}
	if len(p.Requests()) != 0 {
		t.Error("provider should not be called")
	}
}

func TestSendValidation(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
	}{
		{name: "empty text", sub: Submission{}},
		{name: "whitespace only", sub: Submission{Text: "  \n\t"}},
		{name: "blank transcript", sub: Submission{Transcript: "   "}},
		{name: "tools without executor", sub: Submission{Text: "hi", Tools: []string{"fs.read"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewMockProvider("mock-model")
			c, store := newController(t, "sys", p, nil)

			err := c.Send(context.Background(), tt.sub)
			if model.KindOf(err) != model.ErrorKindValidation {
				t.Fatalf("Send() error = %v, want validation error", err)
			}
			if len(p.Requests()) != 0 {
				t.Error("provider called for an invalid submission")
			}
			if n := len(store.List()); n != 1 {
				t.Errorf("store has %d messages, want 1", n)
			}
			if c.Busy() {
				t.Error("guard not released after validation failure")
			}
		})
	}
}

func TestSendBuildsUserMessage(t *testing.T) {
	tests := []struct {
		name      string
		sub       Submission
		wantText  string
		wantParts int
	}{
		{name: "text only", sub: Submission{Text: "hello"}, wantText: "hello"},
		{name: "transcript only", sub: Submission{Transcript: "spoken words"}, wantText: "spoken words"},
		{name: "text and transcript", sub: Submission{Text: "note", Transcript: "spoken"}, wantText: "note\n\nspoken"},
		{name: "image only", sub: Submission{Images: []string{"https://example.com/a.png"}}, wantParts: 1},
		{name: "text and images", sub: Submission{Text: "look", Images: []string{"data:image/png;base64,AA==", "https://example.com/b.png"}}, wantText: "look", wantParts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewMockProvider("mock-model")
			c, store := newController(t, "sys", p, nil)

			if err := c.Send(context.Background(), tt.sub); err != nil {
				t.Fatalf("Send() error = %v", err)
			}

			user := store.List()[1]
			if user.PlainText() != tt.wantText {
				t.Errorf("text = %q, want %q", user.PlainText(), tt.wantText)
			}
			if len(user.Parts) != tt.wantParts {
				t.Errorf("parts = %d, want %d", len(user.Parts), tt.wantParts)
			}
			if len(user.Images()) != len(tt.sub.Images) {
				t.Errorf("images = %d, want %d", len(user.Images()), len(tt.sub.Images))
			}
		})
	}
}

func TestAgentOverrideIsPerTurn(t *testing.T) {
	p := testutil.NewMockProvider("mock-model", testutil.ContentTurn("Olá"), testutil.ContentTurn("Hi"))
	c, store := newController(t, "default prompt", p, nil)

	if err := c.Send(context.Background(), Submission{Text: "hello", Agent: "Respond in pt-BR"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := p.LastRequest().Agent; got != "Respond in pt-BR" {
		t.Errorf("request agent = %q", got)
	}
	if sys := store.List()[0]; sys.Text != "default prompt" {
		t.Errorf("system message rewritten: %q", sys.Text)
	}

	if err := c.Send(context.Background(), Submission{Text: "again"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := p.LastRequest().Agent; got != "" {
		t.Errorf("agent leaked into next turn: %q", got)
	}
}

func TestCapabilityHardening(t *testing.T) {
	exec := &fakeExecutor{specs: []model.ToolSpec{{Name: "fs.read"}}}
	caps := fixedCapabilities{policy: capability.NewPolicy(nil,
		capability.Descriptor{ID: "vision-model", SupportsImages: true, SupportsTools: true},
		capability.Descriptor{ID: "text-model"},
	)}

	tests := []struct {
		name     string
		model    string
		hasKey   bool
		sub      Submission
		wantKind model.ErrorKind
	}{
		{name: "image on vision model", model: "vision-model", hasKey: true, sub: Submission{Text: "a", Images: []string{"https://x/a.png"}}},
		{name: "image on text model", model: "text-model", hasKey: true, sub: Submission{Text: "a", Images: []string{"https://x/a.png"}}, wantKind: model.ErrorKindValidation},
		{name: "tools on text model", model: "text-model", hasKey: true, sub: Submission{Text: "a", Tools: []string{"fs.read"}}, wantKind: model.ErrorKindValidation},
		{name: "tools on unknown model", model: "other", hasKey: true, sub: Submission{Text: "a", Tools: []string{"fs.read"}}, wantKind: model.ErrorKindValidation},
		{name: "tools without key", model: "vision-model", hasKey: false, sub: Submission{Text: "a", Tools: []string{"fs.read"}}, wantKind: model.ErrorKindValidation},
		{name: "unknown tool", model: "vision-model", hasKey: true, sub: Submission{Text: "a", Tools: []string{"fs.write"}}, wantKind: model.ErrorKindValidation},
		{name: "plain text on text model", model: "text-model", hasKey: false, sub: Submission{Text: "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewMockProvider(tt.model)
			store := conversation.NewStore("sys", nil)
			c := New(Config{
				Store:        store,
				Provider:     p,
				ProviderID:   "mock",
				Executor:     exec,
				Capabilities: caps,
				HasKey:       func(string) bool { return tt.hasKey },
			})

			err := c.Send(context.Background(), tt.sub)
			if got := model.KindOf(err); got != tt.wantKind {
				t.Fatalf("Send() error kind = %q (%v), want %q", got, err, tt.wantKind)
			}
			if tt.wantKind != "" && len(p.Requests()) != 0 {
				t.Error("provider called despite validation failure")
			}
		})
	}
}

func TestTransportFailureBecomesDiagnostic(t *testing.T) {
	p := testutil.NewMockProvider("mock-model",
		testutil.Turn{
			Fragments: []model.Fragment{{Content: "partial", Reasoning: "thinking"}},
			Err:       model.NewTransportError("connection reset", errors.New("EOF")),
		},
		testutil.ContentTurn("recovered"),
	)
	c, store := newController(t, "sys", p, nil)

	err := c.Send(context.Background(), Submission{Text: "hi"})
	if model.KindOf(err) != model.ErrorKindTransport {
		t.Fatalf("Send() error = %v, want transport error", err)
	}
	if c.Busy() {
		t.Fatal("guard not released after failure")
	}

	replies := assistantMessages(store.List())
	if len(replies) != 1 {
		t.Fatalf("assistant messages = %d, want 1 diagnostic", len(replies))
	}
	if !strings.HasPrefix(replies[0].Text, "❌ transport error:") {
		t.Errorf("diagnostic = %q", replies[0].Text)
	}
	if replies[0].Reasoning != "" {
		t.Errorf("diagnostic kept draft reasoning %q", replies[0].Reasoning)
	}

	if err := c.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate() after failure error = %v", err)
	}
	replies = assistantMessages(store.List())
	if len(replies) != 1 || replies[0].Text != "recovered" {
		t.Errorf("replies after regenerate = %+v", replies)
	}
	if len(p.Requests()) != 2 {
		t.Errorf("provider requests = %d, want 2 (no automatic retry)", len(p.Requests()))
	}
}

func TestParseFailureBeforeAnyFragment(t *testing.T) {
	p := testutil.NewMockProvider("mock-model", testutil.Turn{Err: model.NewParseError("malformed fragment", errors.New("bad json"))})
	c, store := newController(t, "sys", p, nil)

	err := c.Send(context.Background(), Submission{Text: "hi"})
	if model.KindOf(err) != model.ErrorKindParse {
		t.Fatalf("Send() error = %v, want parse error", err)
	}

	last := store.Last()
	if last.Role != model.RoleAssistant || !strings.HasPrefix(last.Text, "❌ parse error:") {
		t.Errorf("last message = %+v", last)
	}
}

func TestUntypedStreamErrorIsTransport(t *testing.T) {
	p := testutil.NewMockProvider("mock-model")
	p.StreamFunc = func(ctx context.Context, req model.Request, handler model.FragmentHandler) error {
		return context.Canceled
	}
	c, store := newController(t, "sys", p, nil)

	err := c.Send(context.Background(), Submission{Text: "hi"})
	if model.KindOf(err) != model.ErrorKindTransport || !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.HasPrefix(store.Last().Text, "❌ transport error:") {
		t.Errorf("last message = %q", store.Last().Text)
	}
}

func TestRegenerateRechecksWholeHistory(t *testing.T) {
	exec := &fakeExecutor{specs: testutil.TestToolSpecs()}
	caps := fixedCapabilities{policy: capability.NewPolicy(nil,
		capability.Descriptor{ID: "vision-model", SupportsImages: true, SupportsTools: true},
		capability.Descriptor{ID: "text-model"},
	)}
	image := testutil.ImageMessage("what is this?", "https://x/a.png")
	image.ID = "u1"
	imageTurn := []model.Message{
		{ID: "s", Role: model.RoleSystem, Text: "sys"},
		image,
		{ID: "a1", Role: model.RoleAssistant, Text: "a cat"},
		{ID: "u2", Role: model.RoleUser, Text: "and its name?"},
		{ID: "a2", Role: model.RoleAssistant, Text: "Tom"},
	}
	textOnly := []model.Message{
		{ID: "s", Role: model.RoleSystem, Text: "sys"},
		{ID: "u1", Role: model.RoleUser, Text: "hello"},
	}

	tests := []struct {
		name      string
		model     string
		history   []model.Message
		tools     []string
		wantKind  model.ErrorKind
		wantTools []string
	}{
		{name: "earlier image on text model", model: "text-model", history: imageTurn, wantKind: model.ErrorKindValidation},
		{name: "earlier image on vision model", model: "vision-model", history: imageTurn},
		{name: "seeded tools are resent", model: "vision-model", history: textOnly, tools: []string{"math.calculate"}, wantTools: []string{"math.calculate"}},
		{name: "seeded tools on text model", model: "text-model", history: textOnly, tools: []string{"math.calculate"}, wantKind: model.ErrorKindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewMockProvider(tt.model, testutil.ContentTurn("again"))
			store := conversation.NewStore("sys", nil)
			store.Load(tt.history)
			c := New(Config{
				Store:        store,
				Provider:     p,
				ProviderID:   "mock",
				Executor:     exec,
				Capabilities: caps,
				Tools:        tt.tools,
			})

			err := c.Regenerate(context.Background())
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Regenerate() error = %v", err)
				}
			} else if got := model.KindOf(err); got != tt.wantKind {
				t.Fatalf("Regenerate() error kind = %q (%v), want %q", got, err, tt.wantKind)
			}
			if tt.wantKind != "" {
				if len(p.Requests()) != 0 {
					t.Error("provider called despite validation failure")
				}
				if got := len(store.List()); got != len(tt.history) {
					t.Errorf("history length = %d, want %d unchanged", got, len(tt.history))
				}
				return
			}

			var sent []string
			for _, spec := range p.LastRequest().Tools {
				sent = append(sent, spec.Name)
			}
			if strings.Join(sent, ",") != strings.Join(tt.wantTools, ",") {
				t.Errorf("request tools = %v, want %v", sent, tt.wantTools)
			}
		})
	}
}
