package provider

import (
	"errors"

	"github.com/kalambet/taskpilot/internal/storage"
)

// ResolveProject finds a project by ID or, failing that, by name. Plans refer
// to projects however the user did; IDs only show up once a ref is active.
func ResolveProject(p Provider, ref string) (storage.Project, error) {
	proj, err := p.GetProject(ref)
	if err == nil {
		return proj, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Project{}, err
	}
	return p.FindProjectByName(ref)
}

// ResolveTask finds a task by ID or by exact title.
func ResolveTask(p Provider, ref string) (storage.Task, error) {
	task, err := p.GetTask(ref)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Task{}, err
	}
	return p.FindTaskByTitle(ref)
}
