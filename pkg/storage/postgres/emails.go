package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// EmailRepository implements storage.EmailStore
type EmailRepository struct {
	base
}

var _ storage.EmailStore = (*EmailRepository)(nil)

const emailColumns = `id, provider_id, mailbox, from_address, to_addresses, subject, body_text,
	received_at, is_read, is_archived, direction, in_reply_to`

func scanEmail(row rowScanner) (*storage.Email, error) {
	var e storage.Email
	var to pq.StringArray
	err := row.Scan(&e.ID, &e.ProviderID, &e.Mailbox, &e.FromAddress, &to, &e.Subject, &e.BodyText,
		&e.ReceivedAt, &e.IsRead, &e.IsArchived, &e.Direction, &e.InReplyTo)
	if err != nil {
		return nil, err
	}
	e.ToAddresses = []string(to)
	if e.ToAddresses == nil {
		e.ToAddresses = []string{}
	}
	return &e, nil
}

func emailWhere(filter storage.EmailFilter) *where {
	w := &where{}
	w.addEq("mailbox", filter.Mailbox)
	w.addEq("direction", filter.Direction)
	if filter.UnreadOnly {
		w.add("is_read = FALSE")
	}
	w.add("is_archived = ?", filter.Archived)
	return w
}

// List returns inbox messages, newest first
func (r *EmailRepository) List(ctx context.Context, filter storage.EmailFilter) (out []*storage.Email, err error) {
	defer r.track("emails.list")(&err)

	w := emailWhere(filter)
	query := `SELECT ` + emailColumns + ` FROM emails` + w.sql() +
		` ORDER BY received_at DESC` + w.page(filter.Page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list emails", err)
	}
	defer rows.Close()

	out = []*storage.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get retrieves a message by id
func (r *EmailRepository) Get(ctx context.Context, id uuid.UUID) (e *storage.Email, err error) {
	defer r.track("emails.get")(&err)

	e, err = scanEmail(r.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get email", err)
	}
	return e, nil
}

// Update changes a message's inbox flags
func (r *EmailRepository) Update(ctx context.Context, id uuid.UUID, patch storage.EmailPatch) (e *storage.Email, err error) {
	defer r.track("emails.update")(&err)

	s := &set{}
	if patch.IsRead != nil {
		s.add("is_read", *patch.IsRead)
	}
	if patch.IsArchived != nil {
		s.add("is_archived", *patch.IsArchived)
	}
	if s.empty() {
		return r.Get(ctx, id)
	}

	s.args = append(s.args, id)
	query := fmt.Sprintf(`UPDATE emails SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(s.columns, ", "), len(s.args), emailColumns)

	e, err = scanEmail(r.db.QueryRowContext(ctx, query, s.args...))
	if err != nil {
		return nil, translate("update email", err)
	}
	return e, nil
}

// Create stores a message, typically one just sent
func (r *EmailRepository) Create(ctx context.Context, e *storage.Email) (err error) {
	defer r.track("emails.create")(&err)

	if e.ProviderID == "" {
		e.ProviderID = "local-" + uuid.NewString()
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO emails (provider_id, mailbox, from_address, to_addresses, subject, body_text,
			received_at, is_read, is_archived, direction, in_reply_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, e.ProviderID, e.Mailbox, e.FromAddress, pq.Array(e.ToAddresses), e.Subject, e.BodyText,
		e.ReceivedAt, e.IsRead, e.IsArchived, e.Direction, e.InReplyTo,
	).Scan(&e.ID)
	if err != nil {
		return translate("create email", err)
	}
	return nil
}

// Upsert inserts a provider message once. It reports false when the provider
// id was already stored.
func (r *EmailRepository) Upsert(ctx context.Context, e *storage.Email) (inserted bool, err error) {
	defer r.track("emails.upsert")(&err)

	if e.Direction == "" {
		e.Direction = storage.EmailInbound
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO emails (provider_id, mailbox, from_address, to_addresses, subject, body_text,
			received_at, direction, in_reply_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider_id) DO NOTHING
		RETURNING id
	`, e.ProviderID, e.Mailbox, e.FromAddress, pq.Array(e.ToAddresses), e.Subject, e.BodyText,
		e.ReceivedAt, e.Direction, e.InReplyTo,
	).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, translate("upsert email", err)
	}
	return true, nil
}

// LatestReceivedAt returns the newest inbound timestamp in a mailbox, or nil
func (r *EmailRepository) LatestReceivedAt(ctx context.Context, mailbox string) (ts *time.Time, err error) {
	defer r.track("emails.latest")(&err)

	var latest sql.NullTime
	err = r.db.QueryRowContext(ctx,
		`SELECT MAX(received_at) FROM emails WHERE mailbox = $1 AND direction = $2`,
		mailbox, storage.EmailInbound).Scan(&latest)
	if err != nil {
		return nil, translate("read latest email", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// Count returns the number of messages matching filter
func (r *EmailRepository) Count(ctx context.Context, filter storage.EmailFilter) (n int, err error) {
	defer r.track("emails.count")(&err)

	w := emailWhere(filter)
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, translate("count emails", err)
	}
	return n, nil
}
