package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/llm"
	"github.com/kalambet/taskpilot/internal/provider"
	"github.com/kalambet/taskpilot/internal/storage"
)

// defaultVelocity is the story points per week assumed when no sprint
// history exists to derive a real velocity from.
const defaultVelocity = 10

func (h *handlers) researchETA(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	ref := refParam(conv, step, "project")
	if ref == "" {
		return needsInput("Which project do you need an estimate for?")
	}
	proj, err := provider.ResolveProject(h.provider, ref)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("finding project %q: %v", ref, err))
	}

	tasks, err := h.provider.ListTasks(storage.TaskFilter{ProjectID: proj.ID}, 500)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("listing tasks for %q: %v", proj.Name, err))
	}

	remaining, unestimated := 0, 0
	for _, t := range tasks {
		if t.Status == "done" {
			continue
		}
		if t.Estimate == 0 {
			unestimated++
			continue
		}
		remaining += t.Estimate
	}

	weeks := (remaining + defaultVelocity - 1) / defaultVelocity
	msg := fmt.Sprintf("%s has %d story points remaining, roughly %d week(s) at %d points/week.",
		proj.Name, remaining, weeks, defaultVelocity)
	if unestimated > 0 {
		msg += fmt.Sprintf(" %d task(s) are unestimated and not counted.", unestimated)
	}
	return conversation.StepResult{
		Message: msg,
		Delta: &conversation.StateDelta{
			ActiveRefs:   map[string]string{"project": proj.Name},
			GatheredData: map[string]any{"eta_weeks": weeks, "remaining_points": remaining},
		},
		Data:   map[string]any{"eta_weeks": weeks},
		Status: conversation.StatusOK,
	}
}

func (h *handlers) researchDependency(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	filter := storage.TaskFilter{}
	if ref := refParam(conv, step, "project"); ref != "" {
		if proj, err := provider.ResolveProject(h.provider, ref); err == nil {
			filter.ProjectID = proj.ID
		}
	}

	tasks, err := h.provider.ListTasks(filter, 500)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("listing tasks: %v", err))
	}

	var blockers []string
	for _, t := range tasks {
		if t.Status != "done" && t.Priority == "high" && t.Assignee == "" {
			blockers = append(blockers, t.Title)
		}
	}
	if len(blockers) == 0 {
		return conversation.StepResult{
			Message: "No unassigned high-priority tasks; nothing looks blocked.",
			Status:  conversation.StatusOK,
		}
	}
	return conversation.StepResult{
		Message: fmt.Sprintf("Potential blockers (high priority, unassigned): %s.", strings.Join(blockers, ", ")),
		Delta:   &conversation.StateDelta{GatheredData: map[string]any{"blockers": blockers}},
		Data:    map[string]any{"blockers": blockers},
		Status:  conversation.StatusOK,
	}
}

func (h *handlers) researchSprint(_ context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	projRef := refParam(conv, step, "project")
	if projRef == "" {
		return needsInput("Which project's sprint are we planning?")
	}
	proj, err := provider.ResolveProject(h.provider, projRef)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("finding project %q: %v", projRef, err))
	}

	sprints, err := h.provider.ListSprints(proj.ID, 10)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("listing sprints for %q: %v", proj.Name, err))
	}

	backlog, err := h.provider.ListTasks(storage.TaskFilter{ProjectID: proj.ID, Status: "todo"}, 500)
	if err != nil {
		return conversation.ErrorResult(fmt.Sprintf("listing backlog for %q: %v", proj.Name, err))
	}

	points := 0
	for _, t := range backlog {
		points += t.Estimate
	}

	msg := fmt.Sprintf("%s backlog: %d task(s), %d story points; capacity %d points per sprint.",
		proj.Name, len(backlog), points, defaultVelocity)
	delta := &conversation.StateDelta{
		ActiveRefs:   map[string]string{"project": proj.Name},
		GatheredData: map[string]any{"backlog_points": points, "backlog_count": len(backlog)},
	}
	if len(sprints) > 0 {
		msg += fmt.Sprintf(" Latest sprint: %s (%s).", sprints[0].Name, sprints[0].Status)
		delta.ActiveRefs["sprint"] = sprints[0].Name
	}
	return conversation.StepResult{Message: msg, Delta: delta, Status: conversation.StatusOK}
}

func (h *handlers) researchGeneral(ctx context.Context, step conversation.Step, conv *conversation.Context) conversation.StepResult {
	summary := h.workspaceSummary(conv)

	if h.completer == nil {
		return conversation.StepResult{Message: summary, Status: conversation.StatusOK}
	}

	answer, err := h.completer.Complete(ctx, h.model,
		"You research questions about a task tracker. Answer briefly from the data given; say so when the data is insufficient.",
		[]llm.Message{{Role: "user", Content: fmt.Sprintf("Data:\n%s\n\nQuestion: %s", summary, step.Description)}})
	if err != nil {
		// The raw summary is still useful; degrade instead of failing.
		return conversation.StepResult{
			Message: summary,
			Status:  conversation.StatusOK,
		}
	}
	return conversation.StepResult{
		Message: strings.TrimSpace(answer),
		Status:  conversation.StatusOK,
	}
}

// workspaceSummary renders the tracker state the research step reasons over.
func (h *handlers) workspaceSummary(conv *conversation.Context) string {
	var b strings.Builder

	projects, err := h.provider.ListProjects(20, 0)
	if err != nil || len(projects) == 0 {
		return "No projects yet."
	}
	for _, p := range projects {
		tasks, err := h.provider.ListTasks(storage.TaskFilter{ProjectID: p.ID}, 100)
		if err != nil {
			continue
		}
		done := 0
		for _, t := range tasks {
			if t.Status == "done" {
				done++
			}
		}
		fmt.Fprintf(&b, "Project %s (%s): %d tasks, %d done.\n", p.Name, p.Status, len(tasks), done)
	}
	if ref := conv.ActiveRefs["project"]; ref != "" {
		fmt.Fprintf(&b, "Currently discussing project %s.\n", ref)
	}
	return strings.TrimSpace(b.String())
}
