// Package patterns is the self-learning classification store: every intent
// classification is recorded, user feedback marks it confirmed or corrected,
// and the aggregated tallies let the classifier skip the LLM for messages it
// has learned.
package patterns

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/taskpilot/internal/storage"
)

// DB abstracts the storage operations the pattern store needs.
type DB interface {
	SaveClassificationRecord(storage.ClassificationRecord) error
	ApplyClassificationFeedback(id string, wasCorrect bool, correctedIntent string) error
	PatternAggregates() ([]storage.PatternAggregate, error)
}

// Match is a learned pattern lookup hit.
type Match struct {
	Intent     string
	Confidence float64
	Samples    int
}

type cacheEntry struct {
	intent     string
	confidence float64
	samples    int
}

// Store caches learned patterns in-process and refreshes from the database
// on an interval. Stale reads are acceptable: classification is
// probabilistic, and feedback lands asynchronously anyway.
type Store struct {
	db              DB
	minSamples      int
	refreshInterval time.Duration
	logger          *slog.Logger

	mu          sync.RWMutex
	cache       map[string]cacheEntry
	lastRefresh time.Time
}

// NewStore creates a pattern store. minSamples guards against promoting a
// pattern from a single lucky confirmation; refreshInterval <= 0 defaults to
// 30 seconds.
func NewStore(db DB, minSamples int, refreshInterval time.Duration) *Store {
	if minSamples <= 0 {
		minSamples = 3
	}
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}
	return &Store{
		db:              db,
		minSamples:      minSamples,
		refreshInterval: refreshInterval,
		logger:          slog.Default(),
		cache:           make(map[string]cacheEntry),
	}
}

// Normalize lowercases and collapses whitespace so trivially different
// phrasings of the same message aggregate under one pattern.
func Normalize(message string) string {
	return strings.Join(strings.Fields(strings.ToLower(message)), " ")
}

// Lookup returns the learned pattern for a message when one exists with
// enough samples. Threshold filtering is the classifier's call; Lookup
// reports whatever confidence the tallies support.
func (s *Store) Lookup(message string) (Match, bool) {
	s.refreshIfStale()

	s.mu.RLock()
	entry, ok := s.cache[Normalize(message)]
	s.mu.RUnlock()

	if !ok || entry.samples < s.minSamples {
		return Match{}, false
	}
	return Match{Intent: entry.intent, Confidence: entry.confidence, Samples: entry.samples}, true
}

// Record stores a classification record, filling in the ID, normalized form,
// and timestamp when absent.
func (s *Store) Record(rec storage.ClassificationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Normalized == "" {
		rec.Normalized = Normalize(rec.Message)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.SaveClassificationRecord(rec); err != nil {
		return "", fmt.Errorf("recording classification: %w", err)
	}
	return rec.ID, nil
}

// ApplyFeedback marks a record confirmed or corrected and invalidates the
// cache so the next lookup sees the new tallies.
func (s *Store) ApplyFeedback(recordID string, wasCorrect bool, correctedIntent string) error {
	if err := s.db.ApplyClassificationFeedback(recordID, wasCorrect, correctedIntent); err != nil {
		return fmt.Errorf("applying feedback to %s: %w", recordID, err)
	}
	s.mu.Lock()
	s.lastRefresh = time.Time{}
	s.mu.Unlock()
	return nil
}

// Refresh rebuilds the cache from the database immediately.
func (s *Store) Refresh() error {
	aggs, err := s.db.PatternAggregates()
	if err != nil {
		return fmt.Errorf("loading pattern aggregates: %w", err)
	}

	// Confidence is per (message, intent) pair: successes over that intent's
	// own graded samples. A message corrected from X to Y ten times gives Y
	// 10/10 = 1.0 and X 0/10 = 0.0. Per message, keep the intent with the
	// best confidence; ties go to more samples, then lexical order.
	best := make(map[string]cacheEntry)
	for _, a := range aggs {
		samples := a.Successes + a.Failures
		if samples == 0 {
			continue
		}
		conf := float64(a.Successes) / float64(samples)
		cur, ok := best[a.Normalized]
		if !ok || conf > cur.confidence ||
			(conf == cur.confidence && samples > cur.samples) ||
			(conf == cur.confidence && samples == cur.samples && a.Intent < cur.intent) {
			best[a.Normalized] = cacheEntry{intent: a.Intent, confidence: conf, samples: samples}
		}
	}

	s.mu.Lock()
	s.cache = best
	s.lastRefresh = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Store) refreshIfStale() {
	s.mu.RLock()
	stale := time.Since(s.lastRefresh) > s.refreshInterval
	s.mu.RUnlock()
	if !stale {
		return
	}
	if err := s.Refresh(); err != nil {
		// Serve the stale cache; the next lookup retries.
		s.logger.Warn("pattern cache refresh failed", "error", err)
	}
}
