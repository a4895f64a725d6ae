// Package planner turns a user message plus conversation window into an
// executable plan via the LLM. It is the primary path of every turn; the
// intent classifier only runs when this package fails to produce a plan.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/llm"
)

// ErrNoPlan signals that the model replied but no plan could be parsed from
// the reply. The caller falls back to intent classification.
var ErrNoPlan = errors.New("no parseable plan in model response")

// Completer is the LLM call the generator needs.
type Completer interface {
	Complete(ctx context.Context, model, system string, messages []llm.Message) (string, error)
}

// Generator produces plans from conversation windows.
type Generator struct {
	completer Completer
	model     string
}

func NewGenerator(completer Completer, model string) *Generator {
	return &Generator{completer: completer, model: model}
}

// Generate asks the model for a plan. A transport or API error is returned
// as-is; a malformed reply is ErrNoPlan.
func (g *Generator) Generate(ctx context.Context, keyFacts string, window []conversation.Message, message string) (*conversation.Plan, error) {
	prompt := plannerPrompt(keyFacts, window, message)
	msgs := make([]llm.Message, len(prompt))
	for i, m := range prompt {
		msgs[i] = llm.Message{Role: m.Role, Content: m.Content}
	}

	raw, err := g.completer.Complete(ctx, g.model, plannerSystem, msgs)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ParsePlan extracts a plan from a model reply, tolerating markdown code
// fences and surrounding prose.
func ParsePlan(raw string) (*conversation.Plan, error) {
	body := stripFences(strings.TrimSpace(raw))

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrNoPlan)
	}

	var plan conversation.Plan
	if err := json.Unmarshal([]byte(body[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	if plan.OverallThought == "" && len(plan.Steps) == 0 {
		return nil, fmt.Errorf("%w: empty plan object", ErrNoPlan)
	}
	for i, step := range plan.Steps {
		if step.Type == "" {
			return nil, fmt.Errorf("%w: step %d has no step_type", ErrNoPlan, i)
		}
	}
	return &plan, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
