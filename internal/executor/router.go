package executor

import (
	"strings"

	"github.com/kalambet/taskpilot/internal/conversation"
)

// Specialized research step types the router dispatches to.
const (
	StepResearchETA        = "research_eta"
	StepResearchDependency = "research_dependency"
	StepResearchSprint     = "research_sprint"
	StepResearchGeneral    = "research_general"
)

// routeStep maps a generic "research" step to a specialized handler by
// keyword. Planners emit "research" with a free-form description; the
// specialized types can also be named directly.
func routeStep(step conversation.Step) string {
	if step.Type != "research" {
		return step.Type
	}

	text := strings.ToLower(step.Title + " " + step.Description)
	switch {
	case containsAny(text, "eta", "estimate", "deadline", "when will", "how long"):
		return StepResearchETA
	case containsAny(text, "depend", "blocker", "blocked"):
		return StepResearchDependency
	case containsAny(text, "sprint", "capacity", "velocity"):
		return StepResearchSprint
	default:
		return StepResearchGeneral
	}
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
