package tools

import (
	"errors"
	"testing"

	"parley/model"
)

func TestTrackerHappyPath(t *testing.T) {
	var seen []model.ToolState
	tr := NewTracker(func(inv Invocation) {
		seen = append(seen, inv.Status.State)
	})

	inv, err := tr.Begin("msg-1", "search", "fetch", "search")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if inv.MessageID != "msg-1" {
		t.Errorf("MessageID: got %q, want %q", inv.MessageID, "msg-1")
	}
	if len(inv.Status.Tools) != 2 {
		t.Errorf("tools should be a set, got %v", inv.Status.Tools)
	}

	for _, s := range []model.ToolState{model.ToolExecuting, model.ToolProcessing} {
		if _, err := tr.Advance(inv.ID, s); err != nil {
			t.Fatalf("Advance(%s) error = %v", s, err)
		}
	}
	if _, err := tr.SetMessage(inv.ID, "reading results"); err != nil {
		t.Fatalf("SetMessage() error = %v", err)
	}
	final, err := tr.Advance(inv.ID, model.ToolFinished)
	if err != nil {
		t.Fatalf("Advance(finished) error = %v", err)
	}
	if final.Status.Message != "reading results" {
		t.Errorf("message: got %q", final.Status.Message)
	}

	want := []model.ToolState{model.ToolDecided, model.ToolExecuting, model.ToolProcessing, model.ToolProcessing, model.ToolFinished}
	if len(seen) != len(want) {
		t.Fatalf("notifications: got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("notification %d: got %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestTrackerRejectsSkips(t *testing.T) {
	tests := []struct {
		name  string
		steps []model.ToolState
		to    model.ToolState
	}{
		{name: "decided to processing", steps: nil, to: model.ToolProcessing},
		{name: "decided to finished", steps: nil, to: model.ToolFinished},
		{name: "executing to finished", steps: []model.ToolState{model.ToolExecuting}, to: model.ToolFinished},
		{name: "executing back to decided", steps: []model.ToolState{model.ToolExecuting}, to: model.ToolDecided},
		{name: "processing to executing", steps: []model.ToolState{model.ToolExecuting, model.ToolProcessing}, to: model.ToolExecuting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil)
			inv, _ := tr.Begin("m")
			for _, s := range tt.steps {
				if _, err := tr.Advance(inv.ID, s); err != nil {
					t.Fatalf("setup Advance(%s) error = %v", s, err)
				}
			}

			_, err := tr.Advance(inv.ID, tt.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Advance(%s) error = %v, want ErrInvalidTransition", tt.to, err)
			}
		})
	}
}

func TestTrackerErrorFromAnyLiveState(t *testing.T) {
	for _, steps := range [][]model.ToolState{
		nil,
		{model.ToolExecuting},
		{model.ToolExecuting, model.ToolProcessing},
	} {
		tr := NewTracker(nil)
		inv, _ := tr.Begin("m", "x")
		for _, s := range steps {
			tr.Advance(inv.ID, s)
		}

		failed, err := tr.Fail(inv.ID, errors.New("boom"))
		if err != nil {
			t.Fatalf("Fail() after %v error = %v", steps, err)
		}
		if failed.Status.State != model.ToolError || failed.Status.Error != "boom" {
			t.Errorf("after %v: got %+v", steps, failed.Status)
		}
	}
}

func TestTrackerFreezesTerminal(t *testing.T) {
	tr := NewTracker(nil)
	inv, _ := tr.Begin("m", "x")
	tr.Fail(inv.ID, errors.New("first"))

	if _, err := tr.Fail(inv.ID, errors.New("second")); !errors.Is(err, ErrFrozen) {
		t.Errorf("Fail on frozen: error = %v, want ErrFrozen", err)
	}
	if _, err := tr.AddTools(inv.ID, "y"); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddTools on frozen: error = %v, want ErrFrozen", err)
	}

	got, _ := tr.Get(inv.ID)
	if got.Status.Error != "first" || len(got.Status.Tools) != 1 {
		t.Errorf("frozen status changed: %+v", got.Status)
	}
}

func TestTrackerOneInvocationPerMessage(t *testing.T) {
	tr := NewTracker(nil)
	if _, err := tr.Begin("m"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := tr.Begin("m"); !errors.Is(err, ErrAlreadyTracked) {
		t.Errorf("second Begin() error = %v, want ErrAlreadyTracked", err)
	}

	tr.Forget("m")
	if _, ok := tr.ForMessage("m"); ok {
		t.Error("ForMessage() found invocation after Forget")
	}
	if _, err := tr.Begin("m"); err != nil {
		t.Errorf("Begin() after Forget error = %v", err)
	}
}

func TestTrackerApplyReported(t *testing.T) {
	tr := NewTracker(nil)

	if _, err := tr.Apply("m", model.ToolStatus{State: model.ToolExecuting}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Apply without decided: error = %v, want ErrInvalidTransition", err)
	}

	steps := []model.ToolStatus{
		{State: model.ToolDecided, Tools: []string{"web"}},
		{State: model.ToolExecuting},
		{State: model.ToolProcessing, Message: "summarizing"},
		{State: model.ToolProcessing, Tools: []string{"calc"}},
		{State: model.ToolFinished},
	}
	var last Invocation
	for _, s := range steps {
		var err error
		last, err = tr.Apply("m", s)
		if err != nil {
			t.Fatalf("Apply(%+v) error = %v", s, err)
		}
	}

	if last.Status.State != model.ToolFinished {
		t.Errorf("state: got %s", last.Status.State)
	}
	if last.Status.Message != "summarizing" {
		t.Errorf("message: got %q", last.Status.Message)
	}
	if len(last.Status.Tools) != 2 || last.Status.Tools[0] != "calc" {
		t.Errorf("tools: got %v", last.Status.Tools)
	}

	if _, err := tr.Apply("m", model.ToolStatus{State: model.ToolError, Error: "late"}); !errors.Is(err, ErrFrozen) {
		t.Errorf("Apply after finished: error = %v, want ErrFrozen", err)
	}
}

func TestSetMessageOnlyWhileProcessing(t *testing.T) {
	tr := NewTracker(nil)
	inv, _ := tr.Begin("m")
	if _, err := tr.SetMessage(inv.ID, "too early"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetMessage while decided: error = %v, want ErrInvalidTransition", err)
	}
}
