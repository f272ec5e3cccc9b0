package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// ContactRepository implements storage.ContactStore
type ContactRepository struct {
	base
}

var _ storage.ContactStore = (*ContactRepository)(nil)

const contactColumns = `id, name, email, company, phone, message, status, created_at`

func scanContact(row rowScanner) (*storage.ContactSubmission, error) {
	var c storage.ContactSubmission
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Company, &c.Phone, &c.Message, &c.Status, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns contact submissions, newest first
func (r *ContactRepository) List(ctx context.Context, filter storage.ContactFilter) (out []*storage.ContactSubmission, err error) {
	defer r.track("contacts.list")(&err)

	w := &where{}
	w.addEq("status", filter.Status)
	query := `SELECT ` + contactColumns + ` FROM contact_submissions` + w.sql() +
		` ORDER BY created_at DESC` + w.page(filter.Page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list contacts", err)
	}
	defer rows.Close()

	out = []*storage.ContactSubmission{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a contact submission with status "new"
func (r *ContactRepository) Create(ctx context.Context, c *storage.ContactSubmission) (err error) {
	defer r.track("contacts.create")(&err)

	c.Status = "new"
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO contact_submissions (name, email, company, phone, message, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, c.Name, c.Email, c.Company, c.Phone, c.Message, c.Status).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return translate("create contact", err)
	}
	return nil
}

// UpdateStatus changes a contact submission's status
func (r *ContactRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (c *storage.ContactSubmission, err error) {
	defer r.track("contacts.update_status")(&err)

	c, err = scanContact(r.db.QueryRowContext(ctx,
		`UPDATE contact_submissions SET status = $1 WHERE id = $2 RETURNING `+contactColumns, status, id))
	if err != nil {
		return nil, translate("update contact", err)
	}
	return c, nil
}

// Delete removes a contact submission
func (r *ContactRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer r.track("contacts.delete")(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM contact_submissions WHERE id = $1`, id)
	if err != nil {
		return translate("delete contact", err)
	}
	return requireAffected("delete contact", res)
}

// Count returns the number of contact submissions matching filter
func (r *ContactRepository) Count(ctx context.Context, filter storage.ContactFilter) (n int, err error) {
	defer r.track("contacts.count")(&err)

	w := &where{}
	w.addEq("status", filter.Status)
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contact_submissions`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, translate("count contacts", err)
	}
	return n, nil
}
