package conversation

import (
	"fmt"
	"sort"
	"strings"
)

const (
	DefaultWindowMessages = 8
	DefaultTokenBudget    = 2048
)

// Selector builds the bounded, relevance-ranked slice of history that feeds
// the LLM, plus a deterministic key-facts summary. Output size is bounded by
// the message cap and token budget regardless of history length.
type Selector struct {
	maxMessages int
	tokenBudget int
	counter     TokenCounter
}

// NewSelector creates a Selector. Non-positive limits fall back to defaults;
// a nil counter disables the token budget.
func NewSelector(maxMessages, tokenBudget int, counter TokenCounter) *Selector {
	if maxMessages <= 0 {
		maxMessages = DefaultWindowMessages
	}
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Selector{
		maxMessages: maxMessages,
		tokenBudget: tokenBudget,
		counter:     counter,
	}
}

// Select picks at most maxMessages from history, favoring the most recent
// message, messages referencing entities in activeRefs, and messages that
// carried a plan. Ties go to the most recent. The returned slice is in
// chronological order. The key-facts summary is a pure derivation from
// activeRefs and the last plan; no LLM call is involved.
func (s *Selector) Select(history []Message, activeRefs map[string]string, lastPlan *Plan) ([]Message, string) {
	keyFacts := KeyFacts(activeRefs, lastPlan)

	if len(history) == 0 {
		return nil, keyFacts
	}

	type scored struct {
		index int
		score int
	}

	refs := make([]string, 0, len(activeRefs))
	for kind, id := range activeRefs {
		refs = append(refs, strings.ToLower(kind), strings.ToLower(id))
	}

	candidates := make([]scored, len(history))
	for i, msg := range history {
		sc := 0
		if i == len(history)-1 {
			sc += 100 // the inbound message always makes the window
		}
		if msg.Kind == KindPlan {
			sc += 2
		}
		lower := strings.ToLower(msg.Content)
		for _, ref := range refs {
			if ref != "" && strings.Contains(lower, ref) {
				sc += 3
				break
			}
		}
		candidates[i] = scored{index: i, score: sc}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].index > candidates[j].index // recency tie-break
	})

	n := s.maxMessages
	if n > len(candidates) {
		n = len(candidates)
	}
	picked := candidates[:n]

	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })

	selected := make([]Message, len(picked))
	for i, c := range picked {
		selected[i] = history[c.index]
	}

	return s.trimToBudget(selected, keyFacts), keyFacts
}

// trimToBudget drops the oldest selected messages until the window plus key
// facts fits the token budget. The most recent message is never dropped.
func (s *Selector) trimToBudget(selected []Message, keyFacts string) []Message {
	if s.counter == nil || len(selected) == 0 {
		return selected
	}

	total := s.counter.Count(keyFacts)
	counts := make([]int, len(selected))
	for i, msg := range selected {
		counts[i] = s.counter.Count(msg.Content)
		total += counts[i]
	}

	drop := 0
	for total > s.tokenBudget && drop < len(selected)-1 {
		total -= counts[drop]
		drop++
	}
	return selected[drop:]
}

// KeyFacts builds the compact, deterministic summary of conversation state:
// active refs in sorted key order, then the last plan's rationale.
func KeyFacts(activeRefs map[string]string, lastPlan *Plan) string {
	var parts []string

	keys := make([]string, 0, len(activeRefs))
	for k := range activeRefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("active %s: %s", k, activeRefs[k]))
	}

	if lastPlan != nil && lastPlan.OverallThought != "" {
		parts = append(parts, "last plan: "+lastPlan.OverallThought)
	}

	if len(parts) == 0 {
		return "no active context"
	}
	return strings.Join(parts, "; ")
}
