package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is a persisted snapshot of a conversation context. The
// snapshot is the full context serialized as JSON; state is duplicated as a
// column so listings don't have to deserialize it.
type Conversation struct {
	ThreadID     string
	State        string
	SnapshotJSON string
	UpdatedAt    time.Time
}

// ClassificationRecord captures one intent classification and, once user
// feedback arrives, whether it was correct. Normalized holds the message
// lowercased and whitespace-collapsed so identical phrasings aggregate.
type ClassificationRecord struct {
	ID              string
	CreatedAt       time.Time
	Message         string
	Normalized      string
	Intent          string
	Confidence      float64
	Source          string // "pattern", "llm", "fallback"
	WasCorrect      *bool  // nil until feedback arrives
	CorrectedIntent string
}

// PatternAggregate is the per-(message, intent) success/failure tally the
// pattern cache is built from.
type PatternAggregate struct {
	Normalized string
	Intent     string
	Successes  int
	Failures   int
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

type Project struct {
	ID          string
	Name        string
	Description string
	Status      string // "active", "archived"
	CreatedAt   time.Time
}

type Task struct {
	ID          string
	ProjectID   string
	SprintID    string
	Title       string
	Description string
	Status      string // "todo", "in_progress", "done"
	Assignee    string
	Priority    string // "low", "medium", "high"
	Estimate    int    // story points; 0 = unestimated
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Sprint struct {
	ID        string
	ProjectID string
	Name      string
	Status    string // "planned", "active", "closed"
	StartsAt  time.Time
	EndsAt    time.Time
	CreatedAt time.Time
}
