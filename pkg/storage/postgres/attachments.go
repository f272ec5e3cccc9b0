package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// AttachmentRepository implements storage.AttachmentStore
type AttachmentRepository struct {
	base
}

var _ storage.AttachmentStore = (*AttachmentRepository)(nil)

const attachmentColumns = `id, project_id, task_id, file_name, content_type, size_bytes,
	storage_key, uploaded_by, created_at`

func scanAttachment(row rowScanner) (*storage.Attachment, error) {
	var a storage.Attachment
	err := row.Scan(&a.ID, &a.ProjectID, &a.TaskID, &a.FileName, &a.ContentType, &a.SizeBytes,
		&a.StorageKey, &a.UploadedBy, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns a project's attachments, newest first
func (r *AttachmentRepository) List(ctx context.Context, projectID uuid.UUID, page storage.Page) (out []*storage.Attachment, err error) {
	defer r.track("attachments.list")(&err)

	w := &where{}
	w.add("project_id = ?", projectID)
	query := `SELECT ` + attachmentColumns + ` FROM attachments` + w.sql() +
		` ORDER BY created_at DESC` + w.page(page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list attachments", err)
	}
	defer rows.Close()

	out = []*storage.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get retrieves attachment metadata by id
func (r *AttachmentRepository) Get(ctx context.Context, id uuid.UUID) (a *storage.Attachment, err error) {
	defer r.track("attachments.get")(&err)

	a, err = scanAttachment(r.db.QueryRowContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get attachment", err)
	}
	return a, nil
}

// Create inserts attachment metadata
func (r *AttachmentRepository) Create(ctx context.Context, a *storage.Attachment) (err error) {
	defer r.track("attachments.create")(&err)

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO attachments (project_id, task_id, file_name, content_type, size_bytes, storage_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, a.ProjectID, a.TaskID, a.FileName, a.ContentType, a.SizeBytes, a.StorageKey, a.UploadedBy,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return translate("create attachment", err)
	}
	return nil
}

// Delete removes attachment metadata
func (r *AttachmentRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer r.track("attachments.delete")(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return translate("delete attachment", err)
	}
	return requireAffected("delete attachment", res)
}

// StorageKeys lists the object keys of a project's attachments
func (r *AttachmentRepository) StorageKeys(ctx context.Context, projectID uuid.UUID) (keys []string, err error) {
	defer r.track("attachments.storage_keys")(&err)

	rows, err := r.db.QueryContext(ctx, `SELECT storage_key FROM attachments WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, translate("list attachment keys", err)
	}
	defer rows.Close()

	keys = []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan attachment key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
