package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/executor"
	"github.com/kalambet/taskpilot/internal/intent"
	"github.com/kalambet/taskpilot/internal/planner"
	"github.com/kalambet/taskpilot/internal/stream"
)

// fakePlanner serves canned plans or errors and counts calls.
type fakePlanner struct {
	plan  *conversation.Plan
	err   error
	calls int
}

func (f *fakePlanner) Generate(_ context.Context, _ string, _ []conversation.Message, _ string) (*conversation.Plan, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.plan, nil
}

// fakeClassifier returns a canned classification and counts calls.
type fakeClassifier struct {
	cls   intent.Classification
	calls int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) intent.Classification {
	f.calls++
	return f.cls
}

func okStep(msg string) executor.Handler {
	return func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		return conversation.StepResult{Status: conversation.StatusOK, Message: msg}
	}
}

func newTestMachine(p Planner, c Classifier, reg *executor.Registry) *Machine {
	store := conversation.NewStore(nil, false)
	sel := conversation.NewSelector(8, 2048, nil)
	return NewMachine(store, sel, p, c, executor.NewExecutor(reg, 0))
}

func eventTypes(events []stream.Event) []stream.EventType {
	out := make([]stream.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func classification(label string) intent.Classification {
	l, spec := intent.Lookup(label)
	return intent.Classification{Intent: l, Spec: spec, Confidence: 0.9, Source: intent.SourceLLM}
}

func TestTurnEventOrder(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register("help", okStep("here to help"))
	p := &fakePlanner{plan: &conversation.Plan{
		OverallThought: "explain myself",
		Steps:          []conversation.Step{{Type: "help", Title: "Help"}},
	}}
	m := newTestMachine(p, &fakeClassifier{}, reg)
	rec := stream.NewRecorder()

	if err := m.ProcessTurn(context.Background(), "t1", "what can you do?", rec); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	want := []stream.EventType{
		stream.EventThinking, stream.EventPlan,
		stream.EventStepStarted, stream.EventStepResult,
		stream.EventDone,
	}
	got := eventTypes(rec.Events())
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestZeroStepPlanFinishesImmediately(t *testing.T) {
	p := &fakePlanner{plan: &conversation.Plan{OverallThought: "nothing to do, just saying hi back"}}
	m := newTestMachine(p, &fakeClassifier{}, executor.NewRegistry())
	rec := stream.NewRecorder()

	if err := m.ProcessTurn(context.Background(), "t1", "hello!", rec); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	events := rec.Events()
	last := events[len(events)-1]
	if last.Type != stream.EventDone {
		t.Fatalf("last event = %s, want done", last.Type)
	}
	payload, ok := last.Payload.(map[string]any)
	if !ok || payload["message"] != "nothing to do, just saying hi back" {
		t.Errorf("done payload = %+v, want the plan's rationale", last.Payload)
	}
	for _, ev := range events {
		if ev.Type == stream.EventStepStarted {
			t.Error("no steps should run for an empty plan")
		}
	}
}

func TestDoneIsAlwaysLastEvenOnPanic(t *testing.T) {
	reg := executor.NewRegistry()
	p := &fakePlanner{plan: nil} // nil plan with nil error panics downstream
	m := newTestMachine(p, &fakeClassifier{}, reg)
	rec := stream.NewRecorder()

	err := m.ProcessTurn(context.Background(), "t1", "hi", rec)
	if err == nil {
		t.Fatal("expected an error from the panicking turn")
	}

	events := rec.Events()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	if events[len(events)-1].Type != stream.EventDone {
		t.Errorf("last event = %s, want done", events[len(events)-1].Type)
	}

	// The thread is usable again afterwards.
	reg.Register("help", okStep("ok"))
	p.plan = &conversation.Plan{OverallThought: "x", Steps: []conversation.Step{{Type: "help"}}}
	if err := m.ProcessTurn(context.Background(), "t1", "again", stream.NewRecorder()); err != nil {
		t.Errorf("turn after panic: %v", err)
	}
}

func TestBusyThreadRejectsSecondTurn(t *testing.T) {
	reg := executor.NewRegistry()
	entered := make(chan struct{})
	release := make(chan struct{})
	reg.Register("slow", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		close(entered)
		<-release
		return conversation.StepResult{Status: conversation.StatusOK}
	})
	p := &fakePlanner{plan: &conversation.Plan{OverallThought: "x", Steps: []conversation.Step{{Type: "slow"}}}}
	m := newTestMachine(p, &fakeClassifier{}, reg)

	first := make(chan error, 1)
	go func() {
		first <- m.ProcessTurn(context.Background(), "t1", "one", stream.NewRecorder())
	}()
	<-entered

	if err := m.ProcessTurn(context.Background(), "t1", "two", stream.NewRecorder()); !errors.Is(err, conversation.ErrBusy) {
		t.Errorf("concurrent turn err = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Errorf("first turn: %v", err)
	}
}

func TestFallbackAsksForMissingFieldThenExecutes(t *testing.T) {
	reg := executor.NewRegistry()
	var executed conversation.Step
	reg.Register("create_project", func(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
		executed = step
		name, _ := conv.GatheredData["project_name"].(string)
		return conversation.StepResult{Status: conversation.StatusOK, Message: "created " + name}
	})
	p := &fakePlanner{err: planner.ErrNoPlan}
	c := &fakeClassifier{cls: classification(intent.IntentCreateProject)}
	m := newTestMachine(p, c, reg)

	// Turn 1: the planner fails, the classifier fires, and the required
	// project_name is missing, so the turn ends in a clarification.
	rec1 := stream.NewRecorder()
	if err := m.ProcessTurn(context.Background(), "t1", "new proj pls", rec1); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if c.calls != 1 {
		t.Fatalf("classifier calls = %d, want 1", c.calls)
	}
	events := rec1.Events()
	last := events[len(events)-1]
	if last.Type != stream.EventDone {
		t.Fatalf("last event = %s", last.Type)
	}
	payload := last.Payload.(map[string]any)
	if payload["status"] != string(conversation.StatusNeedsInput) {
		t.Errorf("turn 1 status = %v, want needs_input", payload["status"])
	}
	if payload["message"] != "What should the project be called?" {
		t.Errorf("clarification = %v", payload["message"])
	}

	// Turn 2: the answer fills the gathered field and the synthetic plan
	// executes without consulting the planner or classifier again.
	rec2 := stream.NewRecorder()
	if err := m.ProcessTurn(context.Background(), "t1", "Apollo", rec2); err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if c.calls != 1 {
		t.Errorf("classifier re-ran on the answer: calls = %d", c.calls)
	}
	if p.calls != 1 {
		t.Errorf("planner re-ran on the answer: calls = %d", p.calls)
	}
	if executed.Type != "create_project" {
		t.Fatalf("executed step = %+v", executed)
	}
	done := rec2.Events()[len(rec2.Events())-1]
	if msg := done.Payload.(map[string]any)["message"]; msg != "created Apollo" {
		t.Errorf("done message = %v", msg)
	}
}

func TestFallbackExecutesImmediatelyWhenNothingMissing(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register("list_tasks", okStep("no tasks"))
	p := &fakePlanner{err: planner.ErrNoPlan}
	c := &fakeClassifier{cls: classification(intent.IntentListTasks)}
	m := newTestMachine(p, c, reg)
	rec := stream.NewRecorder()

	if err := m.ProcessTurn(context.Background(), "t1", "show tasks", rec); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	types := eventTypes(rec.Events())
	wantPlan, wantStep := false, false
	for _, typ := range types {
		if typ == stream.EventPlan {
			wantPlan = true
		}
		if typ == stream.EventStepStarted {
			wantStep = true
		}
	}
	if !wantPlan || !wantStep {
		t.Errorf("events = %v, want a synthetic plan and a step run", types)
	}
}

func TestResearchIntentRoutesThroughResearchState(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register("research_eta", okStep("two weeks"))
	p := &fakePlanner{err: planner.ErrNoPlan}
	c := &fakeClassifier{cls: classification(intent.IntentEstimateETA)}
	m := newTestMachine(p, c, reg)

	// First turn asks for the project; answer it on the second.
	if err := m.ProcessTurn(context.Background(), "t1", "when is it done?", stream.NewRecorder()); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	rec := stream.NewRecorder()
	if err := m.ProcessTurn(context.Background(), "t1", "Apollo", rec); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	done := rec.Events()[len(rec.Events())-1]
	if msg := done.Payload.(map[string]any)["message"]; msg != "two weeks" {
		t.Errorf("done message = %v", msg)
	}
}

func TestLearnedPatternSkipsNothingButPlannerStillRunsFirst(t *testing.T) {
	// Plan-first always consults the planner; patterns only replace the
	// classifier's LLM call. A pattern-sourced classification still drives
	// the fallback path end to end.
	reg := executor.NewRegistry()
	reg.Register("help", okStep("hi"))
	p := &fakePlanner{err: planner.ErrNoPlan}
	l, spec := intent.Lookup(intent.IntentHelp)
	c := &fakeClassifier{cls: intent.Classification{Intent: l, Spec: spec, Confidence: 0.95, Source: intent.SourcePattern}}
	m := newTestMachine(p, c, reg)

	if err := m.ProcessTurn(context.Background(), "t1", "help", stream.NewRecorder()); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if p.calls != 1 || c.calls != 1 {
		t.Errorf("planner/classifier calls = %d/%d, want 1/1", p.calls, c.calls)
	}
}

func TestPartialFailureStillCompletes(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register("good", okStep("fine"))
	reg.Register("bad", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		return conversation.ErrorResult("boom")
	})
	p := &fakePlanner{plan: &conversation.Plan{
		OverallThought: "two steps",
		Steps: []conversation.Step{
			{Type: "bad", Title: "fails"},
			{Type: "good", Title: "still runs"},
		},
	}}
	m := newTestMachine(p, &fakeClassifier{}, reg)
	rec := stream.NewRecorder()

	if err := m.ProcessTurn(context.Background(), "t1", "go", rec); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	types := eventTypes(rec.Events())
	steps := 0
	for _, typ := range types {
		if typ == stream.EventStepResult {
			steps++
		}
	}
	if steps != 2 {
		t.Errorf("step results = %d, want 2 (the failure does not stop the run)", steps)
	}
	if types[len(types)-1] != stream.EventDone {
		t.Errorf("last event = %s, want done", types[len(types)-1])
	}
}

func TestNeedsInputDuringExecutionDiscardsRestOfPlan(t *testing.T) {
	reg := executor.NewRegistry()
	ran := 0
	reg.Register("ask", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		return conversation.StepResult{Status: conversation.StatusNeedsInput, Message: "which project?"}
	})
	reg.Register("never", func(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
		ran++
		return conversation.StepResult{Status: conversation.StatusOK}
	})
	p := &fakePlanner{plan: &conversation.Plan{
		OverallThought: "x",
		Steps: []conversation.Step{
			{Type: "ask"},
			{Type: "never"},
		},
	}}
	m := newTestMachine(p, &fakeClassifier{}, reg)
	rec := stream.NewRecorder()

	if err := m.ProcessTurn(context.Background(), "t1", "do the thing", rec); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if ran != 0 {
		t.Errorf("steps after the question ran: %d", ran)
	}
	done := rec.Events()[len(rec.Events())-1]
	if msg := done.Payload.(map[string]any)["message"]; msg != "which project?" {
		t.Errorf("done message = %v, want the question", msg)
	}

	// The next turn plans fresh instead of resuming the abandoned plan.
	p.plan = &conversation.Plan{OverallThought: "fresh"}
	if err := m.ProcessTurn(context.Background(), "t1", "Apollo", stream.NewRecorder()); err != nil {
		t.Fatalf("next turn: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("planner calls = %d, want 2 (re-plan after pause)", p.calls)
	}
}

func TestCompletedThreadResetsForNextTurn(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register("help", okStep("hello"))
	p := &fakePlanner{plan: &conversation.Plan{OverallThought: "x", Steps: []conversation.Step{{Type: "help"}}}}
	m := newTestMachine(p, &fakeClassifier{}, reg)

	for i := 0; i < 3; i++ {
		if err := m.ProcessTurn(context.Background(), "t1", "hi", stream.NewRecorder()); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	if p.calls != 3 {
		t.Errorf("planner calls = %d, want 3", p.calls)
	}
}

func TestUnknownIntentGetsHelp(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register("help", okStep("I manage projects and tasks."))
	p := &fakePlanner{err: errors.New("llm unavailable")}
	c := &fakeClassifier{cls: intent.Classification{Intent: intent.IntentUnknown, Source: intent.SourceFallback}}
	m := newTestMachine(p, c, reg)
	rec := stream.NewRecorder()

	if err := m.ProcessTurn(context.Background(), "t1", "??", rec); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	done := rec.Events()[len(rec.Events())-1]
	if msg, _ := done.Payload.(map[string]any)["message"].(string); !strings.Contains(msg, "projects") {
		t.Errorf("done message = %q, want the help text", msg)
	}
}

func TestSyntheticPlanCarriesUserMessage(t *testing.T) {
	label, spec := intent.Lookup(intent.IntentCreateProject)
	plan := syntheticPlan(label, spec, `make a project called "Apollo"`)

	if len(plan.Steps) != 1 {
		t.Fatalf("steps = %+v", plan.Steps)
	}
	step := plan.Steps[0]
	if step.Type != "create_project" {
		t.Errorf("step type = %q", step.Type)
	}
	if !strings.Contains(step.Description, `"Apollo"`) {
		t.Errorf("description = %q, want the raw message for parameter parsing", step.Description)
	}
}

func TestAdvanceRejectsIllegalTransition(t *testing.T) {
	m := newTestMachine(&fakePlanner{}, &fakeClassifier{}, executor.NewRegistry())
	conv := conversation.NewContext("t1")
	conv.State = conversation.StateExecution

	if err := m.advance(conv, conversation.StatePlanning); err == nil {
		t.Error("EXECUTION -> PLANNING should be rejected")
	}
	if err := m.advance(conv, conversation.StateCompleted); err != nil {
		t.Errorf("EXECUTION -> COMPLETED: %v", err)
	}
}

func TestFirstMissing(t *testing.T) {
	conv := conversation.NewContext("t1")
	conv.GatheredData["title"] = "write docs"

	if got := firstMissing([]string{"title", "project"}, conv); got != "project" {
		t.Errorf("firstMissing = %q, want project", got)
	}
	conv.ActiveRefs["project"] = "Apollo"
	if got := firstMissing([]string{"title", "project"}, conv); got != "" {
		t.Errorf("firstMissing = %q, want none", got)
	}
}
