// Package intent classifies user messages into the closed intent taxonomy.
// Classification is the fallback path: it runs only when plan generation
// fails, and it learns from feedback so repeated messages eventually skip the
// LLM entirely.
package intent

import (
	"sort"
	"strings"
)

// Intent labels. The taxonomy is closed: the classifier maps anything it
// cannot place to IntentUnknown.
const (
	IntentCreateProject  = "CREATE_PROJECT"
	IntentCreateTask     = "CREATE_TASK"
	IntentListTasks      = "LIST_TASKS"
	IntentUpdateTask     = "UPDATE_TASK"
	IntentAssignTask     = "ASSIGN_TASK"
	IntentCompleteTask   = "COMPLETE_TASK"
	IntentCreateSprint   = "CREATE_SPRINT"
	IntentSprintPlanning = "SPRINT_PLANNING"
	IntentProjectStatus  = "PROJECT_STATUS"
	IntentEstimateETA    = "ESTIMATE_ETA"
	IntentHelp           = "HELP"
	IntentUnknown        = "UNKNOWN"
)

// Spec describes how the state machine handles an intent on the fallback
// path: which fields must be gathered before acting, whether the intent needs
// a research pass, which step executes it, and what to ask when fields are
// missing.
type Spec struct {
	Description   string
	Required      []string
	Research      bool
	StepType      string
	Clarification string
}

var taxonomy = map[string]Spec{
	IntentCreateProject: {
		Description:   "start a new project",
		Required:      []string{"project_name"},
		StepType:      "create_project",
		Clarification: "What should the project be called?",
	},
	IntentCreateTask: {
		Description:   "add a task to a project",
		Required:      []string{"title", "project"},
		StepType:      "create_task",
		Clarification: "What is the task, and which project does it belong to?",
	},
	IntentListTasks: {
		Description: "list tasks, optionally filtered by project, sprint, or assignee",
		StepType:    "list_tasks",
	},
	IntentUpdateTask: {
		Description:   "change a task's fields",
		Required:      []string{"task"},
		StepType:      "update_task",
		Clarification: "Which task should I update, and what should change?",
	},
	IntentAssignTask: {
		Description:   "assign a task to someone",
		Required:      []string{"task", "assignee"},
		StepType:      "assign_task",
		Clarification: "Which task, and who should take it?",
	},
	IntentCompleteTask: {
		Description:   "mark a task done",
		Required:      []string{"task"},
		StepType:      "complete_task",
		Clarification: "Which task is done?",
	},
	IntentCreateSprint: {
		Description:   "create a sprint",
		Required:      []string{"sprint_name", "project"},
		StepType:      "create_sprint",
		Clarification: "What should the sprint be called, and for which project?",
	},
	IntentSprintPlanning: {
		Description: "plan which tasks go into a sprint",
		Required:    []string{"sprint"},
		Research:    true,
		StepType:    "research_sprint",
		Clarification: "Which sprint are we planning?",
	},
	IntentProjectStatus: {
		Description: "summarize the state of a project",
		Required:    []string{"project"},
		StepType:    "project_status",
		Clarification: "Which project do you want a status for?",
	},
	IntentEstimateETA: {
		Description: "estimate when work will be finished",
		Required:    []string{"project"},
		Research:    true,
		StepType:    "research_eta",
		Clarification: "Which project or task do you need an estimate for?",
	},
	IntentHelp: {
		Description: "explain what the assistant can do",
		StepType:    "help",
	},
	IntentUnknown: {
		Description: "anything that fits none of the above",
		StepType:    "help",
	},
}

// Lookup returns the spec for a label. Unrecognized labels resolve to
// IntentUnknown's spec.
func Lookup(label string) (string, Spec) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if spec, ok := taxonomy[label]; ok {
		return label, spec
	}
	return IntentUnknown, taxonomy[IntentUnknown]
}

// Labels returns every intent label in sorted order.
func Labels() []string {
	out := make([]string, 0, len(taxonomy))
	for label := range taxonomy {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
