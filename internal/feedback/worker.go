// Package feedback applies user feedback on intent classifications
// asynchronously. Feedback arrives on the API as a job; the worker drains the
// queue and updates the learned-pattern tallies.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/taskpilot/internal/storage"
)

// JobTypeApply is the queue type for classification feedback jobs.
const JobTypeApply = "apply_feedback"

// Payload is the feedback job body.
type Payload struct {
	RecordID        string `json:"record_id"`
	WasCorrect      bool   `json:"was_correct"`
	CorrectedIntent string `json:"corrected_intent,omitempty"`
}

// Queue is the job-queue side the worker needs.
type Queue interface {
	EnqueueJob(storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Applier lands feedback in the pattern store.
type Applier interface {
	ApplyFeedback(recordID string, wasCorrect bool, correctedIntent string) error
}

// Enqueue submits feedback for asynchronous application.
func Enqueue(q Queue, p Payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshaling feedback payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeApply,
		PayloadJSON: string(body),
	}
	if err := q.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing feedback job: %w", err)
	}
	return job.ID, nil
}

// Worker polls the queue for feedback jobs.
type Worker struct {
	queue    Queue
	applier  Applier
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker creates a worker. interval <= 0 defaults to 2 seconds.
func NewWorker(q Queue, a Applier, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{
		queue:    q,
		applier:  a,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run polls until ctx is cancelled. After finishing a job it immediately
// checks for another; the interval only paces an empty queue.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		for w.processOne() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processOne claims and runs a single job, reporting whether one was found.
func (w *Worker) processOne() bool {
	job, err := w.queue.ClaimNextJob([]string{JobTypeApply})
	if err != nil {
		w.logger.Error("claiming feedback job failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	if err := w.apply(job); err != nil {
		w.logger.Warn("feedback job failed", "job_id", job.ID, "error", err)
		if ferr := w.queue.FailJob(job.ID, err.Error()); ferr != nil {
			w.logger.Error("marking job failed", "job_id", job.ID, "error", ferr)
		}
		return true
	}

	if err := w.queue.CompleteJob(job.ID); err != nil {
		w.logger.Error("marking job completed", "job_id", job.ID, "error", err)
	}
	return true
}

func (w *Worker) apply(job *storage.Job) error {
	var p Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("unmarshaling feedback payload: %w", err)
	}
	if p.RecordID == "" {
		return fmt.Errorf("feedback payload has no record_id")
	}
	return w.applier.ApplyFeedback(p.RecordID, p.WasCorrect, p.CorrectedIntent)
}
