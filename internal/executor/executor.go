// Package executor runs plan steps in order, tolerating individual failures
// and pausing when a step needs the user.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/metrics"
	"github.com/kalambet/taskpilot/internal/stream"
)

// Handler executes one step against the conversation context. Handlers must
// not mutate the context directly; state changes travel in the result's
// delta.
type Handler func(ctx context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult

// Registry maps step types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(stepType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stepType] = h
}

func (r *Registry) lookup(stepType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stepType]
	return h, ok
}

// Outcome summarizes a plan run.
type Outcome struct {
	// Paused is true when a step asked for user input; the remaining steps
	// were not run and the plan is abandoned in favor of re-planning next
	// turn.
	Paused bool
	// Failed counts steps that errored. Errors don't stop the run.
	Failed int
	// LastMessage is the message of the final executed step.
	LastMessage string
}

// Executor walks a plan from the context's step cursor.
type Executor struct {
	registry    *Registry
	stepTimeout time.Duration
	logger      *slog.Logger
}

// NewExecutor creates an executor. stepTimeout <= 0 means no per-step
// timeout.
func NewExecutor(registry *Registry, stepTimeout time.Duration) *Executor {
	return &Executor{
		registry:    registry,
		stepTimeout: stepTimeout,
		logger:      slog.Default(),
	}
}

// Run executes the context's current plan from its cursor. For each step it
// emits step_started and step_result, applies the result's delta, and
// advances the cursor. An error result is reported and the run continues; a
// needs_input result stops the run and discards the rest of the plan.
// Cancellation stops before the next step starts; steps already finished
// stay finished.
func (e *Executor) Run(ctx context.Context, conv *conversation.Context, emitter stream.Emitter) (Outcome, error) {
	if conv.CurrentPlan == nil {
		return Outcome{}, fmt.Errorf("thread %s has no plan to execute", conv.ThreadID)
	}

	var out Outcome
	steps := conv.CurrentPlan.Steps
	for conv.StepCursor < len(steps) {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("execution cancelled at step %d: %w", conv.StepCursor, err)
		}

		step := steps[conv.StepCursor]
		emitter.Emit(ctx, stream.NewEvent(stream.EventStepStarted, conv.ThreadID, map[string]any{
			"index": conv.StepCursor,
			"step":  step,
		}))

		result := e.runStep(ctx, step, conv)
		metrics.StepsTotal.WithLabelValues(string(result.Status)).Inc()
		conv.ApplyDelta(result.Delta)
		conv.StepCursor++
		out.LastMessage = result.Message
		if result.Message != "" && result.Status != conversation.StatusNeedsInput {
			// needs_input questions are recorded by the orchestrator with
			// the clarification kind.
			conv.Append(conversation.RoleAssistant, result.Message)
		}

		emitter.Emit(ctx, stream.NewEvent(stream.EventStepResult, conv.ThreadID, map[string]any{
			"index":  conv.StepCursor - 1,
			"step":   step,
			"result": result,
		}))

		switch result.Status {
		case conversation.StatusError:
			out.Failed++
			e.logger.Warn("step failed",
				"thread_id", conv.ThreadID,
				"step_type", step.Type,
				"message", result.Message)
		case conversation.StatusNeedsInput:
			out.Paused = true
			return out, nil
		}
	}
	return out, nil
}

// runStep dispatches one step with a timeout and panic isolation. A panicking
// handler produces an error result instead of killing the turn.
func (e *Executor) runStep(ctx context.Context, step conversation.Step, conv *conversation.Context) (result conversation.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("step handler panicked",
				"thread_id", conv.ThreadID,
				"step_type", step.Type,
				"panic", r)
			result = conversation.ErrorResult(fmt.Sprintf("step %q failed unexpectedly", step.Type))
		}
	}()

	handler, ok := e.registry.lookup(routeStep(step))
	if !ok {
		return conversation.ErrorResult(fmt.Sprintf("no handler for step type %q", step.Type))
	}

	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}
	return handler(ctx, step, conv)
}
