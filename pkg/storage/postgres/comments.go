package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// CommentRepository implements storage.CommentStore
type CommentRepository struct {
	base
}

var _ storage.CommentStore = (*CommentRepository)(nil)

const commentColumns = `id, project_id, task_id, author_id, body, created_at`

func scanComment(row rowScanner) (*storage.Comment, error) {
	var c storage.Comment
	if err := row.Scan(&c.ID, &c.ProjectID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CommentRepository) list(ctx context.Context, column string, id uuid.UUID, page storage.Page) ([]*storage.Comment, error) {
	w := &where{}
	w.add(column+" = ?", id)
	query := `SELECT ` + commentColumns + ` FROM comments` + w.sql() +
		` ORDER BY created_at` + w.page(page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list comments", err)
	}
	defer rows.Close()

	out := []*storage.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListForProject returns a project's comments, oldest first
func (r *CommentRepository) ListForProject(ctx context.Context, projectID uuid.UUID, page storage.Page) (out []*storage.Comment, err error) {
	defer r.track("comments.list_project")(&err)
	return r.list(ctx, "project_id", projectID, page)
}

// ListForTask returns a task's comments, oldest first
func (r *CommentRepository) ListForTask(ctx context.Context, taskID uuid.UUID, page storage.Page) (out []*storage.Comment, err error) {
	defer r.track("comments.list_task")(&err)
	return r.list(ctx, "task_id", taskID, page)
}

// Get retrieves a comment by id
func (r *CommentRepository) Get(ctx context.Context, id uuid.UUID) (c *storage.Comment, err error) {
	defer r.track("comments.get")(&err)

	c, err = scanComment(r.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get comment", err)
	}
	return c, nil
}

// Create inserts a comment
func (r *CommentRepository) Create(ctx context.Context, c *storage.Comment) (err error) {
	defer r.track("comments.create")(&err)

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO comments (project_id, task_id, author_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, c.ProjectID, c.TaskID, c.AuthorID, c.Body).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return translate("create comment", err)
	}
	return nil
}

// Delete removes a comment
func (r *CommentRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer r.track("comments.delete")(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return translate("delete comment", err)
	}
	return requireAffected("delete comment", res)
}
