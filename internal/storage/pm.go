package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Projects ---

func (s *Store) CreateProject(p Project) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := p.Status
	if status == "" {
		status = "active"
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, description, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, status, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, name, description, status, created_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Status, &createdAt)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Project{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t
	return p, nil
}

// FindProjectByName matches a project by exact name, case-insensitively.
func (s *Store) FindProjectByName(name string) (Project, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM projects WHERE name = ? COLLATE NOCASE LIMIT 1`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	return s.GetProject(id)
}

func (s *Store) ListProjects(limit, offset int) ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, status, created_at
		FROM projects ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.CreatedAt = t
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Tasks ---

func (s *Store) CreateTask(t Task) error {
	now := time.Now().UTC()
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	status := t.Status
	if status == "" {
		status = "todo"
	}
	priority := t.Priority
	if priority == "" {
		priority = "medium"
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, project_id, sprint_id, title, description, status, assignee, priority, estimate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.SprintID, t.Title, t.Description, status, t.Assignee,
		priority, t.Estimate, createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetTask(id string) (Task, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, sprint_id, title, description, status, assignee, priority, estimate, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// FindTaskByTitle matches a task by exact title, case-insensitively.
func (s *Store) FindTaskByTitle(title string) (Task, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, sprint_id, title, description, status, assignee, priority, estimate, created_at, updated_at
		FROM tasks WHERE title = ? COLLATE NOCASE LIMIT 1`, title)
	return scanTask(row)
}

// TaskFilter narrows ListTasks; zero values mean "any".
type TaskFilter struct {
	ProjectID string
	SprintID  string
	Assignee  string
	Status    string
}

func (s *Store) ListTasks(f TaskFilter, limit int) ([]Task, error) {
	query := `SELECT id, project_id, sprint_id, title, description, status, assignee, priority, estimate, created_at, updated_at
		FROM tasks WHERE 1=1`
	var args []interface{}
	if f.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.SprintID != "" {
		query += ` AND sprint_id = ?`
		args = append(args, f.SprintID)
	}
	if f.Assignee != "" {
		query += ` AND assignee = ? COLLATE NOCASE`
		args = append(args, f.Assignee)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// TaskUpdate carries optional field updates; nil pointers leave the column
// untouched.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *string
	Assignee    *string
	Priority    *string
	SprintID    *string
	Estimate    *int
}

func (s *Store) UpdateTask(id string, u TaskUpdate) error {
	set := "updated_at = ?"
	args := []interface{}{time.Now().UTC().Format(time.RFC3339)}

	appendSet := func(col string, v interface{}) {
		set += ", " + col + " = ?"
		args = append(args, v)
	}
	if u.Title != nil {
		appendSet("title", *u.Title)
	}
	if u.Description != nil {
		appendSet("description", *u.Description)
	}
	if u.Status != nil {
		appendSet("status", *u.Status)
	}
	if u.Assignee != nil {
		appendSet("assignee", *u.Assignee)
	}
	if u.Priority != nil {
		appendSet("priority", *u.Priority)
	}
	if u.SprintID != nil {
		appendSet("sprint_id", *u.SprintID)
	}
	if u.Estimate != nil {
		appendSet("estimate", *u.Estimate)
	}

	args = append(args, id)
	res, err := s.db.Exec(`UPDATE tasks SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.ProjectID, &t.SprintID, &t.Title, &t.Description,
		&t.Status, &t.Assignee, &t.Priority, &t.Estimate, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Task{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Task{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

// --- Sprints ---

func (s *Store) CreateSprint(sp Sprint) error {
	createdAt := sp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := sp.Status
	if status == "" {
		status = "planned"
	}
	var startsAt, endsAt interface{}
	if !sp.StartsAt.IsZero() {
		startsAt = sp.StartsAt.UTC().Format(time.RFC3339)
	}
	if !sp.EndsAt.IsZero() {
		endsAt = sp.EndsAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO sprints (id, project_id, name, status, starts_at, ends_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.ProjectID, sp.Name, status, startsAt, endsAt, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSprint(id string) (Sprint, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, name, status, starts_at, ends_at, created_at
		FROM sprints WHERE id = ?`, id)
	return scanSprint(row)
}

func (s *Store) ListSprints(projectID string, limit int) ([]Sprint, error) {
	query := `SELECT id, project_id, name, status, starts_at, ends_at, created_at FROM sprints`
	var args []interface{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sp)
	}
	return results, rows.Err()
}

func scanSprint(row rowScanner) (Sprint, error) {
	var sp Sprint
	var startsAt, endsAt sql.NullString
	var createdAt string
	err := row.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.Status, &startsAt, &endsAt, &createdAt)
	if err == sql.ErrNoRows {
		return Sprint{}, ErrNotFound
	}
	if err != nil {
		return Sprint{}, err
	}
	if sp.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Sprint{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if startsAt.Valid {
		if sp.StartsAt, err = time.Parse(time.RFC3339, startsAt.String); err != nil {
			return Sprint{}, fmt.Errorf("parsing starts_at: %w", err)
		}
	}
	if endsAt.Valid {
		if sp.EndsAt, err = time.Parse(time.RFC3339, endsAt.String); err != nil {
			return Sprint{}, fmt.Errorf("parsing ends_at: %w", err)
		}
	}
	return sp, nil
}
