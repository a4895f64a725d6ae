package intent

import (
	"fmt"
	"strings"
)

const classifierSystem = `You label user messages for a project management assistant.
Reply with exactly one label from the list, nothing else.`

func classifierPrompt(message string) string {
	var b strings.Builder
	b.WriteString("Labels:\n")
	for _, label := range Labels() {
		fmt.Fprintf(&b, "- %s: %s\n", label, taxonomy[label].Description)
	}
	b.WriteString("\nMessage: ")
	b.WriteString(message)
	b.WriteString("\n\nLabel:")
	return b.String()
}
