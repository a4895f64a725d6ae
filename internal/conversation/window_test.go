package conversation

import (
	"fmt"
	"strings"
	"testing"
)

// charCounter approximates 1 token per 4 characters, like the fallback path
// of the real counter.
type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) / 4 }

func history(n int) []Message {
	msgs := make([]Message, n)
	for i := range msgs {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs[i] = Message{Role: role, Content: fmt.Sprintf("message number %d", i)}
	}
	return msgs
}

func TestSelectBoundedRegardlessOfHistorySize(t *testing.T) {
	s := NewSelector(8, 2048, nil)

	for _, n := range []int{0, 1, 10, 1000, 100000} {
		selected, _ := s.Select(history(n), nil, nil)
		if len(selected) > 8 {
			t.Errorf("history of %d: selected %d messages, want <= 8", n, len(selected))
		}
		if n > 0 && n <= 8 && len(selected) != n {
			t.Errorf("history of %d: selected %d, want all %d", n, len(selected), n)
		}
	}
}

func TestSelectAlwaysIncludesLastMessage(t *testing.T) {
	s := NewSelector(4, 2048, nil)

	h := history(50)
	selected, _ := s.Select(h, nil, nil)
	if len(selected) == 0 {
		t.Fatal("empty selection")
	}
	last := selected[len(selected)-1]
	if last.Content != h[len(h)-1].Content {
		t.Errorf("last selected = %q, want the inbound message %q", last.Content, h[len(h)-1].Content)
	}
}

func TestSelectPrefersRefMentionsAndPlans(t *testing.T) {
	h := []Message{
		{Role: RoleUser, Content: "unrelated chatter 0"},
		{Role: RoleUser, Content: "let's talk about Apollo"},
		{Role: RoleAssistant, Content: "planned the work", Kind: KindPlan},
		{Role: RoleUser, Content: "unrelated chatter 1"},
		{Role: RoleUser, Content: "unrelated chatter 2"},
		{Role: RoleUser, Content: "what's next?"},
	}
	s := NewSelector(3, 2048, nil)

	selected, _ := s.Select(h, map[string]string{"project": "Apollo"}, nil)
	if len(selected) != 3 {
		t.Fatalf("selected %d, want 3", len(selected))
	}

	var contents []string
	for _, m := range selected {
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, " | ")
	if !strings.Contains(joined, "Apollo") {
		t.Errorf("ref-mentioning message not selected: %s", joined)
	}
	if !strings.Contains(joined, "planned the work") {
		t.Errorf("plan message not selected: %s", joined)
	}
	if !strings.Contains(joined, "what's next?") {
		t.Errorf("inbound message not selected: %s", joined)
	}
}

func TestSelectChronologicalOrder(t *testing.T) {
	h := history(20)
	s := NewSelector(8, 2048, nil)

	selected, _ := s.Select(h, nil, nil)
	for i := 1; i < len(selected); i++ {
		prev := selected[i-1].Content
		cur := selected[i].Content
		var a, b int
		fmt.Sscanf(prev, "message number %d", &a)
		fmt.Sscanf(cur, "message number %d", &b)
		if a >= b {
			t.Errorf("selection out of order: %q before %q", prev, cur)
		}
	}
}

func TestTokenBudgetTrimsOldestFirst(t *testing.T) {
	long := strings.Repeat("wordy content here ", 50) // ~250 tokens at 4 chars/token
	h := []Message{
		{Role: RoleUser, Content: long},
		{Role: RoleUser, Content: long},
		{Role: RoleUser, Content: "the final question"},
	}
	s := NewSelector(8, 100, charCounter{})

	selected, _ := s.Select(h, nil, nil)
	if len(selected) != 1 {
		t.Fatalf("selected %d messages under tight budget, want 1", len(selected))
	}
	if selected[0].Content != "the final question" {
		t.Errorf("kept %q, want the most recent message", selected[0].Content)
	}
}

func TestKeyFactsDeterministic(t *testing.T) {
	refs := map[string]string{"task": "Write docs", "project": "Apollo"}
	plan := &Plan{OverallThought: "finish the docs work"}

	first := KeyFacts(refs, plan)
	for i := 0; i < 10; i++ {
		if got := KeyFacts(refs, plan); got != first {
			t.Fatalf("KeyFacts not deterministic: %q vs %q", got, first)
		}
	}

	if !strings.Contains(first, "active project: Apollo") {
		t.Errorf("missing project ref: %q", first)
	}
	if !strings.Contains(first, "last plan: finish the docs work") {
		t.Errorf("missing plan rationale: %q", first)
	}
	if strings.Index(first, "project") > strings.Index(first, "task") {
		t.Errorf("refs not in sorted key order: %q", first)
	}
}

func TestKeyFactsEmpty(t *testing.T) {
	if got := KeyFacts(nil, nil); got != "no active context" {
		t.Errorf("KeyFacts(nil, nil) = %q", got)
	}
}
