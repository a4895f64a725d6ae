// Package conversation holds the per-thread data model: message history,
// working references, plans, step results, and the keyed context store that
// serializes turns per thread.
package conversation

import "time"

// State is the per-turn machine state of a conversation.
type State string

const (
	StateIntentDetection  State = "INTENT_DETECTION"
	StateContextGathering State = "CONTEXT_GATHERING"
	StateResearch         State = "RESEARCH_PHASE"
	StatePlanning         State = "PLANNING_PHASE"
	StateExecution        State = "EXECUTION_PHASE"
	StateCompleted        State = "COMPLETED"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message kinds mark assistant messages with a purpose the window selector
// cares about; regular messages leave Kind empty.
const (
	KindPlan          = "plan"
	KindClarification = "clarification"
)

// Message is one entry in a conversation's append-only history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Step is one unit of work within a plan. Type is resolved against the
// handler registry at execution time.
type Step struct {
	Type        string `json:"step_type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Plan is an ordered list of steps plus the model's rationale. The rationale
// is informational only and never executed.
type Plan struct {
	OverallThought string `json:"overall_thought"`
	Steps          []Step `json:"steps"`
}

// Step result statuses.
type Status string

const (
	StatusOK         Status = "ok"
	StatusError      Status = "error"
	StatusNeedsInput Status = "needs_input"
)

// StateDelta is a partial update to a context's working state. Keys merge
// last-write-wins; nil maps leave the corresponding side untouched.
type StateDelta struct {
	ActiveRefs   map[string]string `json:"active_refs,omitempty"`
	GatheredData map[string]any    `json:"gathered_data,omitempty"`
}

// StepResult is what a step handler returns: a user-facing message, an
// optional context update, an optional structured payload, and a status.
type StepResult struct {
	Message string      `json:"message"`
	Delta   *StateDelta `json:"state_delta,omitempty"`
	Data    any         `json:"data,omitempty"`
	Status  Status      `json:"status"`
}

// ErrorResult builds an error-status StepResult from a message.
func ErrorResult(message string) StepResult {
	return StepResult{Message: message, Status: StatusError}
}
