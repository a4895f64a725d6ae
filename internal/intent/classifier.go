package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kalambet/taskpilot/internal/llm"
	"github.com/kalambet/taskpilot/internal/patterns"
	"github.com/kalambet/taskpilot/internal/storage"
)

// Sources for a classification.
const (
	SourcePattern  = "pattern"
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// Classification is the outcome of classifying one message. RecordID keys
// later feedback back to this decision.
type Classification struct {
	Intent     string
	Spec       Spec
	Confidence float64
	Source     string
	RecordID   string
}

// Completer is the LLM call the classifier needs.
type Completer interface {
	Complete(ctx context.Context, model, system string, messages []llm.Message) (string, error)
}

// PatternStore is the learned-pattern side of the classifier.
type PatternStore interface {
	Lookup(message string) (patterns.Match, bool)
	Record(storage.ClassificationRecord) (string, error)
}

// Classifier maps a message to an intent in two stages: a learned-pattern
// lookup that short-circuits the LLM when confidence is high enough, then an
// LLM call against the closed taxonomy. Every decision is recorded so
// feedback can grade it.
type Classifier struct {
	completer Completer
	store     PatternStore
	model     string
	threshold float64
	logger    *slog.Logger
}

func NewClassifier(completer Completer, store PatternStore, model string, threshold float64) *Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &Classifier{
		completer: completer,
		store:     store,
		model:     model,
		threshold: threshold,
		logger:    slog.Default(),
	}
}

// Classify resolves the intent for a message. An LLM failure degrades to
// IntentUnknown rather than failing the turn.
func (c *Classifier) Classify(ctx context.Context, message string) Classification {
	if match, ok := c.store.Lookup(message); ok && match.Confidence >= c.threshold {
		label, spec := Lookup(match.Intent)
		return c.record(message, Classification{
			Intent:     label,
			Spec:       spec,
			Confidence: match.Confidence,
			Source:     SourcePattern,
		})
	}

	raw, err := c.completer.Complete(ctx, c.model, classifierSystem, []llm.Message{
		{Role: "user", Content: classifierPrompt(message)},
	})
	if err != nil {
		c.logger.Warn("intent classification failed", "error", err)
		label, spec := Lookup(IntentUnknown)
		return c.record(message, Classification{
			Intent: label,
			Spec:   spec,
			Source: SourceFallback,
		})
	}

	label, spec := Lookup(parseLabel(raw))
	conf := 0.6
	if label == IntentUnknown {
		conf = 0.0
	}
	return c.record(message, Classification{
		Intent:     label,
		Spec:       spec,
		Confidence: conf,
		Source:     SourceLLM,
	})
}

func (c *Classifier) record(message string, cls Classification) Classification {
	id, err := c.store.Record(storage.ClassificationRecord{
		Message:    message,
		Intent:     cls.Intent,
		Confidence: cls.Confidence,
		Source:     cls.Source,
	})
	if err != nil {
		c.logger.Warn("recording classification failed", "error", err)
		return cls
	}
	cls.RecordID = id
	return cls
}

// parseLabel pulls the intent label out of a model reply, tolerating
// surrounding prose and punctuation.
func parseLabel(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, label := range Labels() {
		if strings.Contains(strings.ToUpper(raw), label) {
			return label
		}
	}
	return IntentUnknown
}
