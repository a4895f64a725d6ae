package conversation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Context is the full state of one conversation thread. It is mutated only
// by the orchestrator and the step executor while the thread's lock is held.
type Context struct {
	ThreadID     string            `json:"thread_id"`
	State        State             `json:"state"`
	History      []Message         `json:"history"`
	ActiveRefs   map[string]string `json:"active_refs"`
	GatheredData map[string]any    `json:"gathered_data"`
	CurrentPlan  *Plan             `json:"current_plan,omitempty"`
	StepCursor   int               `json:"step_cursor"`
	Intent       string            `json:"intent,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewContext creates an empty context in the initial state.
func NewContext(threadID string) *Context {
	return &Context{
		ThreadID:     threadID,
		State:        StateIntentDetection,
		ActiveRefs:   make(map[string]string),
		GatheredData: make(map[string]any),
		UpdatedAt:    time.Now().UTC(),
	}
}

// Append adds a message to history.
func (c *Context) Append(role, content string) {
	c.AppendKind(role, content, "")
}

// AppendKind adds a message with an explicit kind tag.
func (c *Context) AppendKind(role, content, kind string) {
	c.History = append(c.History, Message{
		Role:      role,
		Content:   content,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	})
	c.UpdatedAt = time.Now().UTC()
}

// ApplyDelta merges a step result's state delta, last-write-wins per key.
func (c *Context) ApplyDelta(d *StateDelta) {
	if d == nil {
		return
	}
	if c.ActiveRefs == nil {
		c.ActiveRefs = make(map[string]string)
	}
	if c.GatheredData == nil {
		c.GatheredData = make(map[string]any)
	}
	for k, v := range d.ActiveRefs {
		c.ActiveRefs[k] = v
	}
	for k, v := range d.GatheredData {
		c.GatheredData[k] = v
	}
	c.UpdatedAt = time.Now().UTC()
}

// ResetTurn prepares a completed context for a new inbound message: the plan
// and cursor are cleared, history and refs persist across turns.
func (c *Context) ResetTurn() {
	c.State = StateIntentDetection
	c.CurrentPlan = nil
	c.StepCursor = 0
	c.Intent = ""
}

// LastPlan returns the current plan, or nil.
func (c *Context) LastPlan() *Plan {
	return c.CurrentPlan
}

// Snapshot serializes the context for persistence.
func (c *Context) Snapshot() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshaling context snapshot: %w", err)
	}
	return string(b), nil
}

// FromSnapshot deserializes a persisted context, re-initializing nil maps so
// callers never see them.
func FromSnapshot(data string) (*Context, error) {
	var c Context
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("unmarshaling context snapshot: %w", err)
	}
	if c.ActiveRefs == nil {
		c.ActiveRefs = make(map[string]string)
	}
	if c.GatheredData == nil {
		c.GatheredData = make(map[string]any)
	}
	return &c, nil
}
