// Package steps provides the built-in step handlers: task tracker actions,
// research passes, and the clarification step.
package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/executor"
	"github.com/kalambet/taskpilot/internal/llm"
	"github.com/kalambet/taskpilot/internal/provider"
	"github.com/kalambet/taskpilot/internal/storage"
)

// Completer is the LLM call the research handlers use for free-form
// synthesis.
type Completer interface {
	Complete(ctx context.Context, model, system string, messages []llm.Message) (string, error)
}

// Register wires every built-in handler into the registry. completer may be
// nil; research steps then degrade to data-only summaries.
func Register(r *executor.Registry, p provider.Provider, completer Completer, researchModel string) {
	h := &handlers{provider: p, completer: completer, model: researchModel}

	r.Register("create_project", h.createProject)
	r.Register("create_task", h.createTask)
	r.Register("list_tasks", h.listTasks)
	r.Register("update_task", h.updateTask)
	r.Register("assign_task", h.assignTask)
	r.Register("complete_task", h.completeTask)
	r.Register("create_sprint", h.createSprint)
	r.Register("project_status", h.projectStatus)
	r.Register("help", h.help)
	r.Register("clarify", h.clarify)

	r.Register(executor.StepResearchETA, h.researchETA)
	r.Register(executor.StepResearchDependency, h.researchDependency)
	r.Register(executor.StepResearchSprint, h.researchSprint)
	r.Register(executor.StepResearchGeneral, h.researchGeneral)
}

type handlers struct {
	provider  provider.Provider
	completer Completer
	model     string
}

func (h *handlers) createProject(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	name := param(conv, step, "project_name")
	if name == "" {
		name = afterKeyword(step.Description, "called")
	}
	if name == "" {
		return needsInput("What should the project be called?")
	}

	if existing, err := h.provider.FindProjectByName(name); err == nil {
		return conversation.StepResult{
			Message: fmt.Sprintf("Project %q already exists.", existing.Name),
			Delta:   refDelta("project", existing.Name),
			Status:  conversation.StatusOK,
		}
	}

	proj := storage.Project{ID: uuid.New().String(), Name: name, Description: step.Description}
	if err := h.provider.CreateProject(proj); err != nil {
		return conversation.ErrorResult(fmt.Sprintf("creating project %q: %v", name, err))
	}
	return conversation.StepResult{
		Message: fmt.Sprintf("Created project %q.", name),
		Delta:   refDelta("project", name),
		Data:    map[string]any{"project_id": proj.ID},
		Status:  conversation.StatusOK,
	}
}

func (h *handlers) createTask(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	title := param(conv, step, "title")
	if title == "" {
		title = step.Title
	}
	if title == "" {
		return needsInput("What is the task?")
	}

	projectRef := refParam(conv, step, "project")
	if projectRef == "" {
		return needsInput("Which project does this task belong to?")
	}
	proj, err := provider.ResolveProject(h.provider, projectRef)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("finding project %q: %v", projectRef, err))
	}

	task := storage.Task{
		ID:          uuid.New().String(),
		ProjectID:   proj.ID,
		Title:       title,
		Description: step.Description,
	}
	if err := h.provider.CreateTask(task); err != nil {
		return conversation.ErrorResult(fmt.Sprintf("creating task %q: %v", title, err))
	}
	return conversation.StepResult{
		Message: fmt.Sprintf("Added task %q to %s.", title, proj.Name),
		Delta: &conversation.StateDelta{ActiveRefs: map[string]string{
			"project": proj.Name,
			"task":    title,
		}},
		Data:   map[string]any{"task_id": task.ID},
		Status: conversation.StatusOK,
	}
}

func (h *handlers) listTasks(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	filter := storage.TaskFilter{}
	if ref := refParam(conv, step, "project"); ref != "" {
		if proj, err := provider.ResolveProject(h.provider, ref); err == nil {
			filter.ProjectID = proj.ID
		}
	}
	if v, ok := conv.GatheredData["assignee"].(string); ok {
		filter.Assignee = v
	}
	if containsWord(step.Description, "open", "todo", "remaining") {
		filter.Status = "todo"
	}

	tasks, err := h.provider.ListTasks(filter, 50)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("listing tasks: %v", err))
	}
	if len(tasks) == 0 {
		return conversation.StepResult{Message: "No tasks found.", Status: conversation.StatusOK}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d task(s):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s", t.Status, t.Title)
		if t.Assignee != "" {
			fmt.Fprintf(&b, " (%s)", t.Assignee)
		}
		b.WriteString("\n")
	}
	return conversation.StepResult{
		Message: strings.TrimSpace(b.String()),
		Data:    map[string]any{"count": len(tasks)},
		Status:  conversation.StatusOK,
	}
}

func (h *handlers) updateTask(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	task, result := h.resolveTask(conv, step)
	if result != nil {
		return *result
	}

	update := storage.TaskUpdate{}
	text := strings.ToLower(step.Title + " " + step.Description)
	switch {
	case containsWord(text, "high", "urgent"):
		update.Priority = ptr("high")
	case containsWord(text, "low"):
		update.Priority = ptr("low")
	}
	if containsWord(text, "progress", "started", "working") {
		update.Status = ptr("in_progress")
	}
	if update == (storage.TaskUpdate{}) {
		update.Description = ptr(step.Description)
	}

	if err := h.provider.UpdateTask(task.ID, update); err != nil {
		return conversation.ErrorResult(fmt.Sprintf("updating task %q: %v", task.Title, err))
	}
	return conversation.StepResult{
		Message: fmt.Sprintf("Updated task %q.", task.Title),
		Delta:   refDelta("task", task.Title),
		Status:  conversation.StatusOK,
	}
}

func (h *handlers) assignTask(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	task, result := h.resolveTask(conv, step)
	if result != nil {
		return *result
	}

	assignee := param(conv, step, "assignee")
	if assignee == "" {
		assignee = afterKeyword(step.Description, "to")
	}
	if assignee == "" {
		return needsInput(fmt.Sprintf("Who should take %q?", task.Title))
	}

	if err := h.provider.UpdateTask(task.ID, storage.TaskUpdate{Assignee: &assignee}); err != nil {
		return conversation.ErrorResult(fmt.Sprintf("assigning task %q: %v", task.Title, err))
	}
	return conversation.StepResult{
		Message: fmt.Sprintf("Assigned %q to %s.", task.Title, assignee),
		Delta:   refDelta("task", task.Title),
		Status:  conversation.StatusOK,
	}
}

func (h *handlers) completeTask(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	task, result := h.resolveTask(conv, step)
	if result != nil {
		return *result
	}
	if err := h.provider.UpdateTask(task.ID, storage.TaskUpdate{Status: ptr("done")}); err != nil {
		return conversation.ErrorResult(fmt.Sprintf("completing task %q: %v", task.Title, err))
	}
	return conversation.StepResult{
		Message: fmt.Sprintf("Marked %q done.", task.Title),
		Delta:   refDelta("task", task.Title),
		Status:  conversation.StatusOK,
	}
}

func (h *handlers) createSprint(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	name := param(conv, step, "sprint_name")
	if name == "" {
		name = afterKeyword(step.Description, "called")
	}
	if name == "" {
		return needsInput("What should the sprint be called?")
	}

	projectRef := refParam(conv, step, "project")
	if projectRef == "" {
		return needsInput("Which project is this sprint for?")
	}
	proj, err := provider.ResolveProject(h.provider, projectRef)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("finding project %q: %v", projectRef, err))
	}

	sprint := storage.Sprint{ID: uuid.New().String(), ProjectID: proj.ID, Name: name}
	if err := h.provider.CreateSprint(sprint); err != nil {
		return conversation.ErrorResult(fmt.Sprintf("creating sprint %q: %v", name, err))
	}
	return conversation.StepResult{
		Message: fmt.Sprintf("Created sprint %q in %s.", name, proj.Name),
		Delta: &conversation.StateDelta{ActiveRefs: map[string]string{
			"project": proj.Name,
			"sprint":  name,
		}},
		Data:   map[string]any{"sprint_id": sprint.ID},
		Status: conversation.StatusOK,
	}
}

func (h *handlers) projectStatus(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	ref := refParam(conv, step, "project")
	if ref == "" {
		return needsInput("Which project do you want a status for?")
	}
	proj, err := provider.ResolveProject(h.provider, ref)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("finding project %q: %v", ref, err))
	}

	tasks, err := h.provider.ListTasks(storage.TaskFilter{ProjectID: proj.ID}, 500)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("listing tasks for %q: %v", proj.Name, err))
	}

	byStatus := map[string]int{}
	for _, t := range tasks {
		byStatus[t.Status]++
	}
	return conversation.StepResult{
		Message: fmt.Sprintf("%s: %d tasks (%d todo, %d in progress, %d done).",
			proj.Name, len(tasks), byStatus["todo"], byStatus["in_progress"], byStatus["done"]),
		Delta:  refDelta("project", proj.Name),
		Data:   map[string]any{"total": len(tasks), "by_status": byStatus},
		Status: conversation.StatusOK,
	}
}

func (h *handlers) help(_ context.Context, _ conversation.Step, _ *conversation.Context) conversation.StepResult {
	return conversation.StepResult{
		Message: "I manage projects, tasks, and sprints. Try: \"create a project called Apollo\", " +
			"\"add a task 'write docs' to Apollo\", \"assign 'write docs' to Dana\", " +
			"\"what's the status of Apollo?\", or \"when will Apollo be done?\"",
		Status: conversation.StatusOK,
	}
}

func (h *handlers) clarify(_ context.Context, step conversation.Step, _ *conversation.Context) conversation.StepResult {
	question := step.Description
	if question == "" {
		question = "Could you give me more detail?"
	}
	return needsInput(question)
}

// resolveTask finds the task a step refers to, or returns the result to
// short-circuit with.
func (h *handlers) resolveTask(conv *conversation.Context, step conversation.Step) (storage.Task, *conversation.StepResult) {
	ref := refParam(conv, step, "task")
	if ref == "" {
		r := needsInput("Which task do you mean?")
		return storage.Task{}, &r
	}
	task, err := provider.ResolveTask(h.provider, ref)
	if err != nil {
		r := conversation.ErrorResult(fmt.Sprintf("finding task %q: %v", ref, err))
		return storage.Task{}, &r
	}
	return task, nil
}

func needsInput(question string) conversation.StepResult {
	return conversation.StepResult{Message: question, Status: conversation.StatusNeedsInput}
}

func refDelta(kind, id string) *conversation.StateDelta {
	return &conversation.StateDelta{ActiveRefs: map[string]string{kind: id}}
}

func containsWord(text string, words ...string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }
