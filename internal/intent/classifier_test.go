package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/taskpilot/internal/llm"
	"github.com/kalambet/taskpilot/internal/patterns"
	"github.com/kalambet/taskpilot/internal/storage"
)

// countingCompleter returns a canned reply and counts calls.
type countingCompleter struct {
	reply string
	err   error
	calls int
}

func (c *countingCompleter) Complete(_ context.Context, _, _ string, _ []llm.Message) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

// fakePatterns serves one canned match and records classifications.
type fakePatterns struct {
	match    patterns.Match
	hasMatch bool
	recorded []storage.ClassificationRecord
}

func (f *fakePatterns) Lookup(message string) (patterns.Match, bool) {
	return f.match, f.hasMatch
}

func (f *fakePatterns) Record(rec storage.ClassificationRecord) (string, error) {
	f.recorded = append(f.recorded, rec)
	return "rec-1", nil
}

func TestClassifySkipsLLMOnConfidentPattern(t *testing.T) {
	completer := &countingCompleter{reply: "CREATE_TASK"}
	store := &fakePatterns{
		match:    patterns.Match{Intent: "CREATE_TASK", Confidence: 0.95, Samples: 10},
		hasMatch: true,
	}
	c := NewClassifier(completer, store, "test-model", 0.8)

	cls := c.Classify(context.Background(), "add a task")

	if completer.calls != 0 {
		t.Errorf("LLM called %d times, want 0 for a confident pattern", completer.calls)
	}
	if cls.Intent != IntentCreateTask || cls.Source != SourcePattern {
		t.Errorf("got %s/%s, want CREATE_TASK/pattern", cls.Intent, cls.Source)
	}
	if cls.RecordID != "rec-1" {
		t.Errorf("record id = %q, want rec-1", cls.RecordID)
	}
}

func TestClassifyUsesLLMBelowThreshold(t *testing.T) {
	completer := &countingCompleter{reply: "LIST_TASKS"}
	store := &fakePatterns{
		match:    patterns.Match{Intent: "CREATE_TASK", Confidence: 0.5, Samples: 10},
		hasMatch: true,
	}
	c := NewClassifier(completer, store, "test-model", 0.8)

	cls := c.Classify(context.Background(), "show my tasks")

	if completer.calls != 1 {
		t.Errorf("LLM called %d times, want 1", completer.calls)
	}
	if cls.Intent != IntentListTasks || cls.Source != SourceLLM {
		t.Errorf("got %s/%s, want LIST_TASKS/llm", cls.Intent, cls.Source)
	}
}

func TestClassifyDegradesToUnknownOnLLMError(t *testing.T) {
	completer := &countingCompleter{err: errors.New("upstream down")}
	store := &fakePatterns{}
	c := NewClassifier(completer, store, "test-model", 0.8)

	cls := c.Classify(context.Background(), "gibberish")

	if cls.Intent != IntentUnknown || cls.Source != SourceFallback {
		t.Errorf("got %s/%s, want UNKNOWN/fallback", cls.Intent, cls.Source)
	}
}

func TestClassifyRecordsEveryDecision(t *testing.T) {
	completer := &countingCompleter{reply: "HELP"}
	store := &fakePatterns{}
	c := NewClassifier(completer, store, "test-model", 0.8)

	c.Classify(context.Background(), "what can you do?")

	if len(store.recorded) != 1 {
		t.Fatalf("recorded %d classifications, want 1", len(store.recorded))
	}
	rec := store.recorded[0]
	if rec.Message != "what can you do?" || rec.Intent != IntentHelp || rec.Source != SourceLLM {
		t.Errorf("recorded %+v", rec)
	}
}

func TestSelfLearningConvergence(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pstore := patterns.NewStore(db, 3, time.Minute)
	completer := &countingCompleter{reply: "CREATE_SPRINT"}
	c := NewClassifier(completer, pstore, "test-model", 0.8)

	// Ten classifications of the same message, each corrected by feedback.
	for i := 0; i < 10; i++ {
		id, err := pstore.Record(storage.ClassificationRecord{
			Message: "setup sprint",
			Intent:  IntentCreateSprint,
			Source:  SourceLLM,
		})
		if err != nil {
			t.Fatalf("recording: %v", err)
		}
		if err := pstore.ApplyFeedback(id, false, IntentCreateProject); err != nil {
			t.Fatalf("applying feedback: %v", err)
		}
	}

	cls := c.Classify(context.Background(), "setup sprint")
	if completer.calls != 0 {
		t.Errorf("LLM called %d times, want 0 after convergence", completer.calls)
	}
	if cls.Intent != IntentCreateProject || cls.Source != SourcePattern {
		t.Errorf("got %s/%s, want CREATE_PROJECT/pattern", cls.Intent, cls.Source)
	}
	if cls.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", cls.Confidence)
	}
}

func TestParseLabel(t *testing.T) {
	cases := map[string]string{
		"CREATE_TASK":                        IntentCreateTask,
		"  create_task  ":                   IntentCreateTask,
		"The label is LIST_TASKS.":          IntentListTasks,
		"something else entirely":           IntentUnknown,
		"":                                  IntentUnknown,
	}
	for in, want := range cases {
		if got := parseLabel(in); got != want {
			t.Errorf("parseLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLookupUnknownLabel(t *testing.T) {
	label, spec := Lookup("NOT_A_REAL_INTENT")
	if label != IntentUnknown {
		t.Errorf("label = %q, want UNKNOWN", label)
	}
	if spec.StepType == "" {
		t.Error("UNKNOWN spec should still have a step type")
	}
}

func TestTaxonomyResearchFlags(t *testing.T) {
	for _, label := range []string{IntentEstimateETA, IntentSprintPlanning} {
		if _, spec := Lookup(label); !spec.Research {
			t.Errorf("%s should be research-flagged", label)
		}
	}
	if _, spec := Lookup(IntentCreateTask); spec.Research {
		t.Error("CREATE_TASK should not be research-flagged")
	}
}
