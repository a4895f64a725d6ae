// Package orchestrator drives a conversation turn through the state machine:
// plan-first, intent-classification fallback, clarification loop, and step
// execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/executor"
	"github.com/kalambet/taskpilot/internal/intent"
	"github.com/kalambet/taskpilot/internal/metrics"
	"github.com/kalambet/taskpilot/internal/planner"
	"github.com/kalambet/taskpilot/internal/stream"
)

// validTransitions is the state machine as data. A transition not listed
// here is a bug, not a recoverable condition.
var validTransitions = map[conversation.State][]conversation.State{
	conversation.StateIntentDetection:  {conversation.StatePlanning, conversation.StateContextGathering},
	conversation.StateContextGathering: {conversation.StateContextGathering, conversation.StateResearch, conversation.StateExecution, conversation.StateCompleted},
	conversation.StateResearch:         {conversation.StateExecution, conversation.StateCompleted},
	conversation.StatePlanning:         {conversation.StateExecution, conversation.StateCompleted},
	conversation.StateExecution:        {conversation.StateCompleted},
	conversation.StateCompleted:        {conversation.StateIntentDetection},
}

// Planner generates a plan from the conversation window.
type Planner interface {
	Generate(ctx context.Context, keyFacts string, window []conversation.Message, message string) (*conversation.Plan, error)
}

// Classifier resolves an intent when planning fails.
type Classifier interface {
	Classify(ctx context.Context, message string) intent.Classification
}

// Machine processes turns. One turn runs per thread at a time; the context
// store enforces that.
type Machine struct {
	store      *conversation.Store
	selector   *conversation.Selector
	planner    Planner
	classifier Classifier
	executor   *executor.Executor
	logger     *slog.Logger
}

func NewMachine(store *conversation.Store, selector *conversation.Selector, p Planner, c Classifier, e *executor.Executor) *Machine {
	return &Machine{
		store:      store,
		selector:   selector,
		planner:    p,
		classifier: c,
		executor:   e,
		logger:     slog.Default(),
	}
}

// ProcessTurn handles one inbound message for a thread, emitting progress
// events as it goes. It returns conversation.ErrBusy (wrapped) when the
// thread already has a turn in flight and the store is in reject mode.
// Whatever happens inside the turn, a done event is the last thing emitted.
func (m *Machine) ProcessTurn(ctx context.Context, threadID, message string, emitter stream.Emitter) (err error) {
	start := time.Now()

	conv, acqErr := m.store.Acquire(threadID)
	if acqErr != nil {
		if errors.Is(acqErr, conversation.ErrBusy) {
			metrics.BusyRejections.Inc()
		}
		return acqErr
	}
	defer m.store.Release(threadID)
	defer func() { metrics.TurnDuration.Observe(time.Since(start).Seconds()) }()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("turn panicked", "thread_id", threadID, "panic", r)
			conv.State = conversation.StateCompleted
			conv.CurrentPlan = nil
			emitter.Emit(ctx, stream.NewEvent(stream.EventError, threadID, map[string]any{
				"message": "something went wrong processing this message",
			}))
			emitter.Emit(ctx, stream.NewEvent(stream.EventDone, threadID, nil))
			metrics.TurnsTotal.WithLabelValues("panic").Inc()
			err = fmt.Errorf("turn for thread %s panicked: %v", threadID, r)
		}
	}()

	if conv.State == conversation.StateCompleted {
		conv.ResetTurn()
	}
	conv.Append(conversation.RoleUser, message)

	emitter.Emit(ctx, stream.NewEvent(stream.EventThinking, threadID, map[string]any{
		"message": "working on it",
	}))

	if conv.State == conversation.StateContextGathering && conv.Intent != "" {
		return m.resumeGathering(ctx, conv, message, emitter)
	}
	return m.planFirst(ctx, conv, message, emitter)
}

// planFirst is the primary path: ask the model for a plan and execute it.
// Any generation failure routes to the classifier fallback instead of
// failing the turn.
func (m *Machine) planFirst(ctx context.Context, conv *conversation.Context, message string, emitter stream.Emitter) error {
	window, keyFacts := m.selector.Select(conv.History, conv.ActiveRefs, conv.LastPlan())

	plan, err := m.planner.Generate(ctx, keyFacts, window, message)
	if err != nil {
		if errors.Is(err, planner.ErrNoPlan) {
			metrics.PlanParseFailures.Inc()
		}
		if ctx.Err() != nil {
			return m.cancelled(ctx, conv, emitter, ctx.Err())
		}
		m.logger.Warn("plan generation failed, falling back to intent classification",
			"thread_id", conv.ThreadID, "error", err)
		return m.fallback(ctx, conv, message, emitter)
	}

	if err := m.advance(conv, conversation.StatePlanning); err != nil {
		return err
	}
	conv.CurrentPlan = plan
	conv.StepCursor = 0
	if plan.OverallThought != "" {
		conv.AppendKind(conversation.RoleAssistant, plan.OverallThought, conversation.KindPlan)
	}
	emitter.Emit(ctx, stream.NewEvent(stream.EventPlan, conv.ThreadID, plan))

	if len(plan.Steps) == 0 {
		// Nothing to do: the rationale is the whole reply.
		return m.finish(ctx, conv, plan.OverallThought, emitter, "no_op")
	}

	if err := m.advance(conv, conversation.StateExecution); err != nil {
		return err
	}
	return m.execute(ctx, conv, emitter)
}

// fallback classifies the message and either executes a synthetic plan for
// the intent or starts gathering the fields the intent requires.
func (m *Machine) fallback(ctx context.Context, conv *conversation.Context, message string, emitter stream.Emitter) error {
	cls := m.classifier.Classify(ctx, message)
	metrics.ClassificationsTotal.WithLabelValues(cls.Source).Inc()
	conv.Intent = cls.Intent
	m.logger.Info("intent classified",
		"thread_id", conv.ThreadID,
		"intent", cls.Intent,
		"source", cls.Source,
		"confidence", cls.Confidence)

	if err := m.advance(conv, conversation.StateContextGathering); err != nil {
		return err
	}
	return m.advanceIntent(ctx, conv, message, emitter)
}

// resumeGathering treats the inbound message as the answer to the pending
// clarification, then re-checks the intent's requirements.
func (m *Machine) resumeGathering(ctx context.Context, conv *conversation.Context, message string, emitter stream.Emitter) error {
	if awaiting, ok := conv.GatheredData[awaitingKey].(string); ok && awaiting != "" {
		conv.GatheredData[awaiting] = strings.TrimSpace(message)
		delete(conv.GatheredData, awaitingKey)
	}
	return m.advanceIntent(ctx, conv, message, emitter)
}

// awaitingKey marks which required field the pending clarification asks for.
const awaitingKey = "_awaiting"

// advanceIntent runs from CONTEXT_GATHERING: ask for the next missing
// required field, or build and execute the intent's synthetic plan once
// everything is present.
func (m *Machine) advanceIntent(ctx context.Context, conv *conversation.Context, message string, emitter stream.Emitter) error {
	label, spec := intent.Lookup(conv.Intent)

	if missing := firstMissing(spec.Required, conv); missing != "" {
		if err := m.advance(conv, conversation.StateContextGathering); err != nil {
			return err
		}
		question := spec.Clarification
		if question == "" {
			question = fmt.Sprintf("What is the %s?", strings.ReplaceAll(missing, "_", " "))
		}
		conv.GatheredData[awaitingKey] = missing
		conv.AppendKind(conversation.RoleAssistant, question, conversation.KindClarification)
		emitter.Emit(ctx, stream.NewEvent(stream.EventDone, conv.ThreadID, map[string]any{
			"message": question,
			"status":  string(conversation.StatusNeedsInput),
		}))
		metrics.TurnsTotal.WithLabelValues("gathering").Inc()
		return nil
	}

	plan := syntheticPlan(label, spec, message)
	conv.CurrentPlan = plan
	conv.StepCursor = 0
	emitter.Emit(ctx, stream.NewEvent(stream.EventPlan, conv.ThreadID, plan))

	next := conversation.StateExecution
	if spec.Research {
		next = conversation.StateResearch
	}
	if err := m.advance(conv, next); err != nil {
		return err
	}
	return m.execute(ctx, conv, emitter)
}

// execute runs the current plan and closes the turn.
func (m *Machine) execute(ctx context.Context, conv *conversation.Context, emitter stream.Emitter) error {
	out, err := m.executor.Run(ctx, conv, emitter)
	if err != nil {
		return m.cancelled(ctx, conv, emitter, err)
	}

	if out.Paused {
		// The step's question is the reply; the rest of the plan is
		// abandoned and the next message plans fresh.
		conv.CurrentPlan = nil
		conv.StepCursor = 0
		conv.AppendKind(conversation.RoleAssistant, out.LastMessage, conversation.KindClarification)
		return m.finish(ctx, conv, out.LastMessage, emitter, "paused")
	}

	summary := out.LastMessage
	if summary == "" && conv.CurrentPlan != nil {
		summary = conv.CurrentPlan.OverallThought
	}
	outcome := "ok"
	if out.Failed > 0 {
		outcome = "partial"
	}
	return m.finish(ctx, conv, summary, emitter, outcome)
}

// finish closes the turn: COMPLETED state, done event, turn metric.
func (m *Machine) finish(ctx context.Context, conv *conversation.Context, message string, emitter stream.Emitter, outcome string) error {
	conv.Intent = ""
	if err := m.advance(conv, conversation.StateCompleted); err != nil {
		return err
	}
	emitter.Emit(ctx, stream.NewEvent(stream.EventDone, conv.ThreadID, map[string]any{
		"message": message,
	}))
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	return nil
}

// cancelled closes a turn cut short by context cancellation. Finished steps
// stay applied; the unfinished remainder is discarded.
func (m *Machine) cancelled(ctx context.Context, conv *conversation.Context, emitter stream.Emitter, cause error) error {
	conv.CurrentPlan = nil
	conv.StepCursor = 0
	conv.Intent = ""
	conv.State = conversation.StateCompleted
	emitter.Emit(ctx, stream.NewEvent(stream.EventError, conv.ThreadID, map[string]any{
		"message": "turn interrupted",
	}))
	emitter.Emit(ctx, stream.NewEvent(stream.EventDone, conv.ThreadID, nil))
	metrics.TurnsTotal.WithLabelValues("cancelled").Inc()
	return cause
}

// advance moves the state machine, rejecting transitions the table doesn't
// allow.
func (m *Machine) advance(conv *conversation.Context, to conversation.State) error {
	for _, allowed := range validTransitions[conv.State] {
		if allowed == to {
			m.logger.Debug("state transition",
				"thread_id", conv.ThreadID, "from", string(conv.State), "to", string(to))
			conv.State = to
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s for thread %s", conv.State, to, conv.ThreadID)
}

// firstMissing returns the first required field not yet known, checking
// gathered data then active refs.
func firstMissing(required []string, conv *conversation.Context) string {
	for _, key := range required {
		if v, ok := conv.GatheredData[key].(string); ok && v != "" {
			continue
		}
		if conv.ActiveRefs[key] != "" {
			continue
		}
		return key
	}
	return ""
}

// syntheticPlan is the single-step plan an intent executes on the fallback
// path. The user's message rides in the description so handlers can pull
// quoted parameters from it.
func syntheticPlan(label string, spec intent.Spec, message string) *conversation.Plan {
	return &conversation.Plan{
		OverallThought: spec.Description,
		Steps: []conversation.Step{{
			Type:        spec.StepType,
			Title:       strings.ReplaceAll(strings.ToLower(label), "_", " "),
			Description: message,
		}},
	}
}
