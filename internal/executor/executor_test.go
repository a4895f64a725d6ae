package executor

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/stream"
)

func newRun(steps ...conversation.Step) *conversation.Context {
	conv := conversation.NewContext("t1")
	conv.CurrentPlan = &conversation.Plan{OverallThought: "test", Steps: steps}
	conv.StepCursor = 0
	return conv
}

func okHandler(msg string) Handler {
	return func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		return conversation.StepResult{Status: conversation.StatusOK, Message: msg}
	}
}

func TestRunContinuesPastFailedStep(t *testing.T) {
	r := NewRegistry()
	r.Register("good", okHandler("fine"))
	r.Register("bad", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		return conversation.ErrorResult("boom")
	})

	conv := newRun(
		conversation.Step{Type: "good", Title: "one"},
		conversation.Step{Type: "bad", Title: "two"},
		conversation.Step{Type: "good", Title: "three"},
	)
	rec := stream.NewRecorder()

	out, err := NewExecutor(r, 0).Run(context.Background(), conv, rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Paused {
		t.Error("errors must not pause the run")
	}
	if out.Failed != 1 {
		t.Errorf("failed = %d, want 1", out.Failed)
	}
	if conv.StepCursor != 3 {
		t.Errorf("cursor = %d, want 3 (all steps attempted)", conv.StepCursor)
	}
}

func TestRunPausesOnNeedsInput(t *testing.T) {
	r := NewRegistry()
	ran := 0
	r.Register("count", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		ran++
		return conversation.StepResult{Status: conversation.StatusOK}
	})
	r.Register("ask", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		return conversation.StepResult{Status: conversation.StatusNeedsInput, Message: "which project?"}
	})

	conv := newRun(
		conversation.Step{Type: "count"},
		conversation.Step{Type: "ask"},
		conversation.Step{Type: "count"},
	)

	out, err := NewExecutor(r, 0).Run(context.Background(), conv, stream.NewRecorder())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Paused {
		t.Error("needs_input should pause the run")
	}
	if ran != 1 {
		t.Errorf("steps after the question ran: count = %d, want 1", ran)
	}
	if out.LastMessage != "which project?" {
		t.Errorf("last message = %q", out.LastMessage)
	}
}

func TestRunAppliesDeltasAndHistory(t *testing.T) {
	r := NewRegistry()
	r.Register("tag", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		return conversation.StepResult{
			Status:  conversation.StatusOK,
			Message: "tagged",
			Delta: &conversation.StateDelta{
				ActiveRefs: map[string]string{"project": "p-1"},
			},
		}
	})

	conv := newRun(conversation.Step{Type: "tag"})
	if _, err := NewExecutor(r, 0).Run(context.Background(), conv, stream.NewRecorder()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conv.ActiveRefs["project"] != "p-1" {
		t.Errorf("delta not applied: refs = %+v", conv.ActiveRefs)
	}
	if len(conv.History) != 1 || conv.History[0].Role != conversation.RoleAssistant {
		t.Errorf("history = %+v, want one assistant message", conv.History)
	}
}

func TestRunNeedsInputNotAppendedToHistory(t *testing.T) {
	r := NewRegistry()
	r.Register("ask", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		return conversation.StepResult{Status: conversation.StatusNeedsInput, Message: "which one?"}
	})

	conv := newRun(conversation.Step{Type: "ask"})
	if _, err := NewExecutor(r, 0).Run(context.Background(), conv, stream.NewRecorder()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Clarification questions are appended by the caller with their own kind.
	if len(conv.History) != 0 {
		t.Errorf("history = %+v, want empty", conv.History)
	}
}

func TestRunUnknownStepTypeIsAnError(t *testing.T) {
	conv := newRun(conversation.Step{Type: "no_such_step"})

	out, err := NewExecutor(NewRegistry(), 0).Run(context.Background(), conv, stream.NewRecorder())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed != 1 {
		t.Errorf("failed = %d, want 1", out.Failed)
	}
}

func TestRunRecoversFromPanickingHandler(t *testing.T) {
	r := NewRegistry()
	r.Register("explode", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		panic("handler bug")
	})
	r.Register("after", okHandler("still here"))

	conv := newRun(
		conversation.Step{Type: "explode"},
		conversation.Step{Type: "after"},
	)

	out, err := NewExecutor(r, 0).Run(context.Background(), conv, stream.NewRecorder())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed != 1 {
		t.Errorf("failed = %d, want 1 from the panic", out.Failed)
	}
	if out.LastMessage != "still here" {
		t.Errorf("the step after the panic did not run: last = %q", out.LastMessage)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	ran := 0
	r.Register("first", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		ran++
		cancel() // cancel mid-run; the next step must not start
		return conversation.StepResult{Status: conversation.StatusOK}
	})
	r.Register("second", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		ran++
		return conversation.StepResult{Status: conversation.StatusOK}
	})

	conv := newRun(
		conversation.Step{Type: "first"},
		conversation.Step{Type: "second"},
	)

	_, err := NewExecutor(r, 0).Run(ctx, conv, stream.NewRecorder())
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if ran != 1 {
		t.Errorf("steps ran = %d, want 1", ran)
	}
	if conv.StepCursor != 1 {
		t.Errorf("cursor = %d, want 1 (finished steps stay finished)", conv.StepCursor)
	}
}

func TestRunEmitsStartAndResultPerStep(t *testing.T) {
	r := NewRegistry()
	r.Register("noop", okHandler("done"))

	conv := newRun(conversation.Step{Type: "noop"}, conversation.Step{Type: "noop"})
	rec := stream.NewRecorder()
	if _, err := NewExecutor(r, 0).Run(context.Background(), conv, rec); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []stream.EventType{
		stream.EventStepStarted, stream.EventStepResult,
		stream.EventStepStarted, stream.EventStepResult,
	}
	events := rec.Events()
	if len(events) != len(want) {
		t.Fatalf("emitted %d events, want %d", len(events), len(want))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("event %d = %s, want %s", i, events[i].Type, typ)
		}
	}
}

func TestRunWithoutPlanFails(t *testing.T) {
	conv := conversation.NewContext("t1")
	if _, err := NewExecutor(NewRegistry(), 0).Run(context.Background(), conv, stream.NewRecorder()); err == nil {
		t.Error("expected an error for a missing plan")
	}
}

func TestStepTimeoutReachesHandler(t *testing.T) {
	r := NewRegistry()
	var deadline bool
	r.Register("check", func(ctx context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		_, deadline = ctx.Deadline()
		return conversation.StepResult{Status: conversation.StatusOK}
	})

	conv := newRun(conversation.Step{Type: "check"})
	if _, err := NewExecutor(r, 5*time.Second).Run(context.Background(), conv, stream.NewRecorder()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !deadline {
		t.Error("handler context should carry the step deadline")
	}
}

func TestRouteStep(t *testing.T) {
	cases := []struct {
		step conversation.Step
		want string
	}{
		{conversation.Step{Type: "create_task"}, "create_task"},
		{conversation.Step{Type: "research", Description: "estimate when the project ships"}, StepResearchETA},
		{conversation.Step{Type: "research", Title: "Find blockers"}, StepResearchDependency},
		{conversation.Step{Type: "research", Description: "check sprint capacity"}, StepResearchSprint},
		{conversation.Step{Type: "research", Description: "look into the team's workload"}, StepResearchGeneral},
		{conversation.Step{Type: "research_eta"}, "research_eta"},
	}
	for _, tc := range cases {
		if got := routeStep(tc.step); got != tc.want {
			t.Errorf("routeStep(%q/%q) = %q, want %q", tc.step.Type, tc.step.Description, got, tc.want)
		}
	}
}
