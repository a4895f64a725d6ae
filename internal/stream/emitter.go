// Package stream defines the ordered event protocol a turn emits and the
// bounded hand-off between the orchestrator and the transport.
package stream

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventThinking    EventType = "thinking"
	EventPlan        EventType = "plan"
	EventStepStarted EventType = "step_started"
	EventStepResult  EventType = "step_result"
	EventError       EventType = "error"
	EventDone        EventType = "done"
)

// Event is one progress event for a thread. Events for a given thread are
// produced by a single goroutine per turn, so emission order is generation
// order.
type Event struct {
	Type      EventType `json:"type"`
	ThreadID  string    `json:"thread_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event.
func NewEvent(typ EventType, threadID string, payload any) Event {
	return Event{Type: typ, ThreadID: threadID, Payload: payload, Timestamp: time.Now().UTC()}
}

// Emitter is the sink for turn events. Implementations must preserve
// per-thread ordering and never drop an accepted event.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// DefaultBuffer is the channel emitter's default capacity. A full buffer
// applies backpressure to the producer instead of dropping events; context
// cancellation unblocks a stalled send.
const DefaultBuffer = 64

// ChannelEmitter hands events to a consumer over a bounded channel. One
// emitter serves one turn; the producer calls Close when the turn ends.
type ChannelEmitter struct {
	ch        chan Event
	closeOnce sync.Once
}

func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &ChannelEmitter{ch: make(chan Event, buffer)}
}

// Emit enqueues the event, blocking if the buffer is full until space frees
// or ctx is cancelled. A cancelled emit discards the event: the client is
// gone and the turn is winding down.
func (e *ChannelEmitter) Emit(ctx context.Context, ev Event) {
	select {
	case e.ch <- ev:
	case <-ctx.Done():
	}
}

// Events returns the consumer side of the channel.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}

// Close signals the consumer that no more events will arrive. Safe to call
// more than once.
func (e *ChannelEmitter) Close() {
	e.closeOnce.Do(func() { close(e.ch) })
}

// Recorder collects events in memory for tests and for non-streaming
// consumers (the MCP tools).
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far, in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
