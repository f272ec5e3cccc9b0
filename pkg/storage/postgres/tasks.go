package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// TaskRepository implements storage.TaskStore
type TaskRepository struct {
	base
}

var _ storage.TaskStore = (*TaskRepository)(nil)

const taskColumns = `id, project_id, title, description, status, priority, assignee_id,
	due_date, created_by, created_at, updated_at`

func scanTask(row rowScanner) (*storage.Task, error) {
	var t storage.Task
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.AssigneeID,
		&t.DueDate, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func taskWhere(filter storage.TaskFilter) *where {
	w := &where{}
	w.addEq("status", filter.Status)
	if filter.ProjectID != nil {
		w.add("project_id = ?", *filter.ProjectID)
	}
	if filter.AssigneeID != nil {
		w.add("assignee_id = ?", *filter.AssigneeID)
	}
	if filter.VisibleTo != nil {
		w.add("(assignee_id = ? OR project_id IN (SELECT project_id FROM project_members WHERE user_id = ?))",
			*filter.VisibleTo, *filter.VisibleTo)
	}
	if filter.ClientID != nil {
		w.add("project_id IN (SELECT id FROM projects WHERE client_id = ?)", *filter.ClientID)
	}
	return w
}

// List returns tasks ordered by due date, undated last
func (r *TaskRepository) List(ctx context.Context, filter storage.TaskFilter) (out []*storage.Task, err error) {
	defer r.track("tasks.list")(&err)

	w := taskWhere(filter)
	query := `SELECT ` + taskColumns + ` FROM tasks` + w.sql() +
		` ORDER BY due_date NULLS LAST, created_at DESC` + w.page(filter.Page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list tasks", err)
	}
	defer rows.Close()

	out = []*storage.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get retrieves a task by id
func (r *TaskRepository) Get(ctx context.Context, id uuid.UUID) (t *storage.Task, err error) {
	defer r.track("tasks.get")(&err)

	t, err = scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get task", err)
	}
	return t, nil
}

// Create inserts a task and fills in generated columns
func (r *TaskRepository) Create(ctx context.Context, t *storage.Task) (err error) {
	defer r.track("tasks.create")(&err)

	if t.Status == "" {
		t.Status = "todo"
	}
	if t.Priority == "" {
		t.Priority = storage.DefaultPriority
	}

	query := `
		INSERT INTO tasks (project_id, title, description, status, priority, assignee_id, due_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.AssigneeID, t.DueDate, t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return translate("create task", err)
	}
	return nil
}

// Update applies the non-nil fields of patch
func (r *TaskRepository) Update(ctx context.Context, id uuid.UUID, patch storage.TaskPatch) (t *storage.Task, err error) {
	defer r.track("tasks.update")(&err)

	s := &set{}
	if patch.Title != nil {
		s.add("title", *patch.Title)
	}
	if patch.Description != nil {
		s.add("description", *patch.Description)
	}
	if patch.Status != nil {
		s.add("status", *patch.Status)
	}
	if patch.Priority != nil {
		s.add("priority", *patch.Priority)
	}
	if patch.AssigneeID != nil {
		s.add("assignee_id", *patch.AssigneeID)
	}
	if patch.DueDate != nil {
		s.add("due_date", *patch.DueDate)
	}

	if s.empty() {
		return r.Get(ctx, id)
	}

	query, args := s.update("tasks", id, taskColumns)
	t, err = scanTask(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, translate("update task", err)
	}
	return t, nil
}

// Delete removes a task
func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer r.track("tasks.delete")(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return translate("delete task", err)
	}
	return requireAffected("delete task", res)
}

// Count returns the number of tasks matching filter
func (r *TaskRepository) Count(ctx context.Context, filter storage.TaskFilter) (n int, err error) {
	defer r.track("tasks.count")(&err)

	w := taskWhere(filter)
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, translate("count tasks", err)
	}
	return n, nil
}
