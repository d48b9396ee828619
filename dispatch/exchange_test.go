package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"parley/assembler"
	"parley/conversation"
	"parley/model"
	"parley/provider/testutil"
)

// recordStates collects the distinct tool states the newest assistant
// message goes through
func recordStates(store *conversation.Store) (*[]model.ToolState, func()) {
	var states []model.ToolState
	unsubscribe := store.Subscribe(func(msgs []model.Message) {
		replies := assistantMessages(msgs)
		if len(replies) == 0 {
			return
		}
		status := replies[len(replies)-1].ToolStatus
		if status == nil {
			return
		}
		if n := len(states); n == 0 || states[n-1] != status.State {
			states = append(states, status.State)
		}
	})
	return &states, unsubscribe
}

func equalStates(a, b []model.ToolState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestToolInvocationHappyPath(t *testing.T) {
	p := testutil.NewMockProvider("mock-model",
		testutil.ToolCallTurn("call_1", "weather.get_weather", `{"city":`, `"Paris"}`),
		testutil.ContentTurn("It is sunny in Paris"),
	)
	exec := &fakeExecutor{specs: testutil.TestToolSpecs(), out: "sunny, 24C"}
	c, store := newController(t, "sys", p, exec)

	states, unsubscribe := recordStates(store)
	defer unsubscribe()

	err := c.Send(context.Background(), Submission{Text: "weather in Paris?", Tools: []string{"weather.get_weather"}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := []model.ToolState{model.ToolDecided, model.ToolExecuting, model.ToolProcessing, model.ToolFinished}
	if !equalStates(*states, want) {
		t.Errorf("tool states = %v, want %v", *states, want)
	}

	if len(exec.calls) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(exec.calls))
	}
	call := exec.calls[0]
	if call.ID != "call_1" || call.Name != "weather.get_weather" || call.Arguments != `{"city":"Paris"}` {
		t.Errorf("executed call = %+v", call)
	}

	requests := p.Requests()
	if len(requests) != 2 {
		t.Fatalf("provider requests = %d, want 2", len(requests))
	}
	if len(requests[0].Tools) != 1 || requests[0].Tools[0].Name != "weather.get_weather" {
		t.Errorf("first request tools = %+v", requests[0].Tools)
	}
	follow := requests[1]
	if len(follow.Tools) != 0 {
		t.Errorf("continuation should not offer tools, got %d", len(follow.Tools))
	}
	results := follow.Messages[len(follow.Messages)-1]
	if results.Role != model.RoleUser || !strings.Contains(results.Text, "Tool result for weather.get_weather:\nsunny, 24C") {
		t.Errorf("tool results message = %+v", results)
	}
	if echo := follow.Messages[len(follow.Messages)-2]; echo.Role != model.RoleAssistant || !strings.Contains(echo.Text, "weather.get_weather") {
		t.Errorf("tool request echo = %+v", echo)
	}

	replies := assistantMessages(store.List())
	if len(replies) != 1 {
		t.Fatalf("assistant messages = %d, want 1", len(replies))
	}
	reply := replies[0]
	if reply.Text != "It is sunny in Paris" {
		t.Errorf("reply content = %q", reply.Text)
	}
	if reply.ToolStatus == nil || reply.ToolStatus.State != model.ToolFinished {
		t.Fatalf("reply tool status = %+v", reply.ToolStatus)
	}
	if got := reply.ToolStatus.Tools; len(got) != 1 || got[0] != "weather.get_weather" {
		t.Errorf("tool set = %v", got)
	}

	inv, ok := c.Tracker().ForMessage(reply.ID)
	if !ok || !inv.Frozen() {
		t.Errorf("invocation = %+v, %t", inv, ok)
	}
}

func TestToolFailureKeepsMessage(t *testing.T) {
	p := testutil.NewMockProvider("mock-model",
		testutil.ToolCallTurn("call_1", "math.calculate", `{"expression":`, `"1/0"}`),
	)
	exec := &fakeExecutor{specs: testutil.TestToolSpecs(), err: errors.New("division by zero")}
	c, store := newController(t, "sys", p, exec)

	err := c.Send(context.Background(), Submission{Text: "1/0?", Tools: []string{"math.calculate"}})
	if model.KindOf(err) != model.ErrorKindTool {
		t.Fatalf("Send() error = %v, want tool error", err)
	}
	if c.Busy() {
		t.Error("guard not released after tool failure")
	}
	if len(p.Requests()) != 1 {
		t.Errorf("provider requests = %d, want 1", len(p.Requests()))
	}

	reply := store.Last()
	if reply.Role != model.RoleAssistant || strings.HasPrefix(reply.Text, "❌") {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.ToolStatus == nil || reply.ToolStatus.State != model.ToolError {
		t.Fatalf("tool status = %+v", reply.ToolStatus)
	}
	if !strings.Contains(reply.ToolStatus.Error, "division by zero") {
		t.Errorf("tool error = %q", reply.ToolStatus.Error)
	}
}

func TestToolCallsWithoutExecutorAreNotRun(t *testing.T) {
	p := testutil.NewMockProvider("mock-model",
		testutil.ToolCallTurn("call_1", "math.calculate", `{"expression":`, `"2+2"}`),
	)
	c, store := newController(t, "sys", p, nil)

	if err := c.Send(context.Background(), Submission{Text: "2+2?"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(p.Requests()) != 1 {
		t.Errorf("provider requests = %d, want 1", len(p.Requests()))
	}
	reply := store.Last()
	if reply.ToolStatus != nil {
		t.Errorf("tool status = %+v, want none", reply.ToolStatus)
	}
	if !strings.Contains(reply.Reasoning, `"2+2"`) {
		t.Errorf("tool arguments missing from reasoning: %q", reply.Reasoning)
	}
}

func TestBackendToolStatus(t *testing.T) {
	status := func(state model.ToolState, msg string) *model.ToolStatus {
		return &model.ToolStatus{State: state, Tools: []string{"search.web"}, Message: msg}
	}
	p := testutil.NewMockProvider("mock-model", testutil.Turn{Fragments: []model.Fragment{
		{ToolStatus: status(model.ToolDecided, "")},
		{ToolStatus: status(model.ToolExecuting, "")},
		{ToolStatus: status(model.ToolFinished, "")}, // skips processing, ignored
		{ToolStatus: status(model.ToolProcessing, "Reading results")},
		{Content: "Found it"},
		{ToolStatus: status(model.ToolFinished, "")},
	}})
	exec := &fakeExecutor{specs: testutil.TestToolSpecs()}
	c, store := newController(t, "sys", p, exec)

	states, unsubscribe := recordStates(store)
	defer unsubscribe()

	if err := c.Send(context.Background(), Submission{Text: "search"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := []model.ToolState{model.ToolDecided, model.ToolExecuting, model.ToolProcessing, model.ToolFinished}
	if !equalStates(*states, want) {
		t.Errorf("tool states = %v, want %v", *states, want)
	}
	if len(exec.calls) != 0 {
		t.Errorf("executor called %d times for backend tools", len(exec.calls))
	}
	if len(p.Requests()) != 1 {
		t.Errorf("provider requests = %d, want 1", len(p.Requests()))
	}

	reply := store.Last()
	if reply.Text != "Found it" || reply.ToolStatus == nil || reply.ToolStatus.Message != "Reading results" {
		t.Errorf("reply = %+v, status = %+v", reply, reply.ToolStatus)
	}
}

func TestBackendToolStatusMustStartDecided(t *testing.T) {
	p := testutil.NewMockProvider("mock-model", testutil.Turn{Fragments: []model.Fragment{
		{Content: "ok"},
		{ToolStatus: &model.ToolStatus{State: model.ToolExecuting, Tools: []string{"x"}}},
	}})
	c, store := newController(t, "sys", p, nil)

	if err := c.Send(context.Background(), Submission{Text: "hi"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply := store.Last(); reply.Text != "ok" || reply.ToolStatus != nil {
		t.Errorf("reply = %+v", reply)
	}
}

func TestTransportFailureFailsOpenInvocation(t *testing.T) {
	p := testutil.NewMockProvider("mock-model", testutil.Turn{
		Fragments: []model.Fragment{{ToolStatus: &model.ToolStatus{State: model.ToolDecided, Tools: []string{"x"}}}},
		Err:       model.NewTransportError("stream interrupted", nil),
	})
	c, store := newController(t, "sys", p, nil)

	err := c.Send(context.Background(), Submission{Text: "hi"})
	if model.KindOf(err) != model.ErrorKindTransport {
		t.Fatalf("Send() error = %v", err)
	}

	reply := store.Last()
	if !strings.HasPrefix(reply.Text, "❌ transport error: stream interrupted") {
		t.Errorf("diagnostic = %q", reply.Text)
	}
	if reply.ToolStatus == nil || reply.ToolStatus.State != model.ToolError {
		t.Errorf("tool status = %+v", reply.ToolStatus)
	}
}

func TestMergeContinuation(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		cont       string
		continuing bool
		want       string
	}{
		{name: "not continuing", prefix: "ignored", cont: "reply", want: "reply"},
		{name: "empty prefix", cont: "reply", continuing: true, want: "reply"},
		{name: "empty continuation", prefix: "Let me check.", continuing: true, want: "Let me check."},
		{name: "both", prefix: "Let me check.", cont: "Done.", continuing: true, want: "Let me check.\n\nDone."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &exchange{continuing: tt.continuing}
			ex.prefix.Content = tt.prefix
			got := ex.merge(assemblerDraft(tt.cont))
			if got.Content != tt.want {
				t.Errorf("merge() content = %q, want %q", got.Content, tt.want)
			}
		})
	}
}

func assemblerDraft(content string) assembler.Draft {
	return assembler.Draft{Content: content}
}

func TestToolCallsOutsideTheRequestAreNotRun(t *testing.T) {
	tests := []struct {
		name      string
		tools     []string
		call      model.ToolCallDelta
		reasoning string
	}{
		{
			name:      "nameless call without tools",
			call:      model.ToolCallDelta{Index: 0, Arguments: "because math"},
			reasoning: "because math",
		},
		{
			name:      "nameless call with tools",
			tools:     []string{"math.calculate"},
			call:      model.ToolCallDelta{Index: 0, Arguments: "because math"},
			reasoning: "because math",
		},
		{
			name:      "named call without tools",
			call:      model.ToolCallDelta{Index: 0, ID: "call_1", Name: "math.calculate", Arguments: `{"expression":"2+2"}`},
			reasoning: `"2+2"`,
		},
		{
			name:      "call to a tool not offered",
			tools:     []string{"weather.get_weather"},
			call:      model.ToolCallDelta{Index: 0, ID: "call_1", Name: "math.calculate", Arguments: `{"expression":"2+2"}`},
			reasoning: `"2+2"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewMockProvider("mock-model", testutil.Turn{Fragments: []model.Fragment{
				{Content: "4"},
				{ToolCalls: []model.ToolCallDelta{tt.call}},
			}})
			exec := &fakeExecutor{specs: testutil.TestToolSpecs(), out: "4"}
			c, store := newController(t, "sys", p, exec)

			if err := c.Send(context.Background(), Submission{Text: "2+2?", Tools: tt.tools}); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if len(exec.calls) != 0 {
				t.Errorf("executor calls = %+v, want none", exec.calls)
			}
			if len(p.Requests()) != 1 {
				t.Errorf("provider requests = %d, want 1", len(p.Requests()))
			}

			reply := store.Last()
			if reply.Text != "4" {
				t.Errorf("reply content = %q, want %q", reply.Text, "4")
			}
			if reply.ToolStatus != nil {
				t.Errorf("tool status = %+v, want none", reply.ToolStatus)
			}
			if !strings.Contains(reply.Reasoning, tt.reasoning) {
				t.Errorf("reasoning = %q, want it to contain %q", reply.Reasoning, tt.reasoning)
			}
			if _, ok := c.Tracker().ForMessage(reply.ID); ok {
				t.Error("no invocation should be tracked")
			}
		})
	}
}
