package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/taskpilot/internal/storage"
)

// ErrBusy is returned in reject mode when a turn is already in flight for
// the thread. It is never silently merged or dropped; the API surfaces it as
// a distinct busy signal.
var ErrBusy = errors.New("a turn is already in flight for this thread")

// Persister is the optional durable backing for conversation snapshots.
type Persister interface {
	GetConversation(threadID string) (storage.Conversation, error)
	SaveConversation(storage.Conversation) error
}

// Store is the keyed map of live conversation contexts. It provides per-key
// mutual exclusion: exactly one turn may hold a thread's context at a time.
// In "wait" mode a second caller blocks behind the per-thread lock; in
// "reject" mode it gets ErrBusy.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*entry
	persister Persister
	wait      bool
	logger    *slog.Logger
}

type entry struct {
	mu  sync.Mutex
	ctx *Context
}

// NewStore creates a context store. persister may be nil for purely
// in-memory operation (tests).
func NewStore(persister Persister, wait bool) *Store {
	return &Store{
		entries:   make(map[string]*entry),
		persister: persister,
		wait:      wait,
		logger:    slog.Default(),
	}
}

// Acquire locks the thread and returns its context, creating it lazily on
// first use (loading a persisted snapshot when one exists). The caller must
// Release when the turn ends.
func (s *Store) Acquire(threadID string) (*Context, error) {
	s.mu.Lock()
	e, ok := s.entries[threadID]
	if !ok {
		e = &entry{}
		s.entries[threadID] = e
	}
	s.mu.Unlock()

	if s.wait {
		e.mu.Lock()
	} else if !e.mu.TryLock() {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrBusy)
	}

	if e.ctx == nil {
		ctx, err := s.load(threadID)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.ctx = ctx
	}

	return e.ctx, nil
}

// Release persists the context snapshot and unlocks the thread. Persistence
// failures are logged, not fatal: the in-memory context stays authoritative
// for the process lifetime.
func (s *Store) Release(threadID string) {
	s.mu.Lock()
	e, ok := s.entries[threadID]
	s.mu.Unlock()
	if !ok {
		return
	}

	if s.persister != nil && e.ctx != nil {
		if err := s.save(e.ctx); err != nil {
			s.logger.Warn("persisting conversation failed", "thread_id", threadID, "error", err)
		}
	}

	e.mu.Unlock()
}

func (s *Store) load(threadID string) (*Context, error) {
	if s.persister != nil {
		row, err := s.persister.GetConversation(threadID)
		switch {
		case err == nil:
			ctx, err := FromSnapshot(row.SnapshotJSON)
			if err != nil {
				return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
			}
			return ctx, nil
		case errors.Is(err, storage.ErrNotFound):
			// fall through to fresh context
		default:
			return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
		}
	}
	return NewContext(threadID), nil
}

func (s *Store) save(c *Context) error {
	snapshot, err := c.Snapshot()
	if err != nil {
		return err
	}
	return s.persister.SaveConversation(storage.Conversation{
		ThreadID:     c.ThreadID,
		State:        string(c.State),
		SnapshotJSON: snapshot,
		UpdatedAt:    time.Now().UTC(),
	})
}
