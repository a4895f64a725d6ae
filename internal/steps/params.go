package steps

import (
	"regexp"
	"strings"

	"github.com/kalambet/taskpilot/internal/conversation"
)

var quoted = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)

// param resolves a step parameter. Gathered data wins (the clarification
// path put it there deliberately), then a quoted phrase in the step
// description, then the matching active ref.
func param(conv *conversation.Context, step conversation.Step, key string) string {
	if v, ok := conv.GatheredData[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if m := quoted.FindStringSubmatch(step.Description); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	if v := conv.ActiveRefs[key]; v != "" {
		return v
	}
	return ""
}

// refParam resolves an entity reference, preferring the active ref over
// parsing. Use for "which project/task are we talking about" lookups.
func refParam(conv *conversation.Context, step conversation.Step, key string) string {
	if v := conv.ActiveRefs[key]; v != "" {
		return v
	}
	return param(conv, step, key)
}

// afterKeyword pulls the phrase following a keyword like "to" or "called"
// from free text. Best effort; callers treat "" as missing.
func afterKeyword(text, keyword string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, " "+keyword+" ")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(text[idx+len(keyword)+2:])
	if end := strings.IndexAny(rest, ".,;\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
