// Package provider is the project-management data surface the step handlers
// execute against. Handlers never touch storage directly; the interface keeps
// them testable and leaves room for remote trackers behind the same shape.
package provider

import (
	"github.com/kalambet/taskpilot/internal/storage"
)

// Provider is everything a step handler can do to the task tracker.
type Provider interface {
	CreateProject(storage.Project) error
	GetProject(id string) (storage.Project, error)
	FindProjectByName(name string) (storage.Project, error)
	ListProjects(limit, offset int) ([]storage.Project, error)

	CreateTask(storage.Task) error
	GetTask(id string) (storage.Task, error)
	FindTaskByTitle(title string) (storage.Task, error)
	ListTasks(f storage.TaskFilter, limit int) ([]storage.Task, error)
	UpdateTask(id string, u storage.TaskUpdate) error

	CreateSprint(storage.Sprint) error
	GetSprint(id string) (storage.Sprint, error)
	ListSprints(projectID string, limit int) ([]storage.Sprint, error)
}
