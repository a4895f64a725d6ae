package planner

import (
	"fmt"
	"strings"

	"github.com/kalambet/taskpilot/internal/conversation"
)

const plannerSystem = `You are the planning engine of a project management assistant.
Given the conversation, produce a JSON plan of concrete steps to satisfy the
user's latest message.

Respond with only a JSON object of this shape:
{
  "overall_thought": "one sentence on how you read the request",
  "steps": [
    {"step_type": "<type>", "title": "<short title>", "description": "<what to do>"}
  ]
}

Available step types:
- create_project, create_task, update_task, assign_task, complete_task
- create_sprint, list_tasks, project_status, help
- research: look something up before acting (dependencies, estimates, sprint capacity)

If the message needs no action (greetings, acknowledgements), return an empty
steps array with an overall_thought explaining why.
If you cannot act without information only the user has, return a single step
of type "clarify" whose description is the question to ask.`

func plannerPrompt(keyFacts string, window []conversation.Message, message string) []conversation.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Known context: %s\n\nConversation:\n", keyFacts)
	for _, msg := range window {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
	}
	fmt.Fprintf(&b, "\nLatest message: %s", message)
	return []conversation.Message{{Role: conversation.RoleUser, Content: b.String()}}
}
