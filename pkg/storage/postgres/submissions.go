package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// SubmissionRepository implements storage.SubmissionStore
type SubmissionRepository struct {
	base
}

var _ storage.SubmissionStore = (*SubmissionRepository)(nil)

const submissionColumns = `id, client_id, status, step1_data, step2_data, project_id, reviewed_by,
	reviewed_at, rejection_reason, created_at, updated_at`

func scanSubmission(row rowScanner) (*storage.Submission, error) {
	var s storage.Submission
	err := row.Scan(
		&s.ID, &s.ClientID, &s.Status, &s.Step1Data, &s.Step2Data, &s.ProjectID, &s.ReviewedBy,
		&s.ReviewedAt, &s.RejectionReason, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func submissionWhere(filter storage.SubmissionFilter) *where {
	w := &where{}
	w.addEq("status", filter.Status)
	if filter.ClientID != nil {
		w.add("client_id = ?", *filter.ClientID)
	}
	return w
}

// List returns submissions, newest first
func (r *SubmissionRepository) List(ctx context.Context, filter storage.SubmissionFilter) (out []*storage.Submission, err error) {
	defer r.track("submissions.list")(&err)

	w := submissionWhere(filter)
	query := `SELECT ` + submissionColumns + ` FROM submissions` + w.sql() +
		` ORDER BY created_at DESC` + w.page(filter.Page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list submissions", err)
	}
	defer rows.Close()

	out = []*storage.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get retrieves a submission by id
func (r *SubmissionRepository) Get(ctx context.Context, id uuid.UUID) (s *storage.Submission, err error) {
	defer r.track("submissions.get")(&err)

	s, err = scanSubmission(r.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get submission", err)
	}
	return s, nil
}

// Create inserts a pending submission
func (r *SubmissionRepository) Create(ctx context.Context, s *storage.Submission) (err error) {
	defer r.track("submissions.create")(&err)

	s.Status = storage.SubmissionPending
	if s.Step1Data == nil {
		s.Step1Data = storage.JSONObject{}
	}

	query := `
		INSERT INTO submissions (client_id, status, step1_data, step2_data)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, s.ClientID, s.Status, s.Step1Data, s.Step2Data).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return translate("create submission", err)
	}
	return nil
}

// Count returns the number of submissions matching filter
func (r *SubmissionRepository) Count(ctx context.Context, filter storage.SubmissionFilter) (n int, err error) {
	defer r.track("submissions.count")(&err)

	w := submissionWhere(filter)
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, translate("count submissions", err)
	}
	return n, nil
}

// MarkApproved moves a pending submission to approved. Of several concurrent
// callers only one sees a row affected.
func (r *SubmissionRepository) MarkApproved(ctx context.Context, id, projectID, reviewerID uuid.UUID) (ok bool, err error) {
	defer r.track("submissions.mark_approved")(&err)

	res, err := r.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = $1, project_id = $2, reviewed_by = $3, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, storage.SubmissionApproved, projectID, reviewerID, id, storage.SubmissionPending)
	if err != nil {
		return false, translate("approve submission", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to approve submission: %w", err)
	}
	return n == 1, nil
}

// MarkRejected moves a pending submission to rejected
func (r *SubmissionRepository) MarkRejected(ctx context.Context, id, reviewerID uuid.UUID, reason string) (ok bool, err error) {
	defer r.track("submissions.mark_rejected")(&err)

	var reasonArg interface{}
	if reason != "" {
		reasonArg = reason
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = $1, rejection_reason = $2, reviewed_by = $3, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, storage.SubmissionRejected, reasonArg, reviewerID, id, storage.SubmissionPending)
	if err != nil {
		return false, translate("reject submission", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reject submission: %w", err)
	}
	return n == 1, nil
}

// SyncLegacyRequest mirrors the submission's status into project_requests
func (r *SubmissionRepository) SyncLegacyRequest(ctx context.Context, s *storage.Submission) (err error) {
	defer r.track("submissions.sync_legacy")(&err)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO project_requests (submission_id, client_id, status, project_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (submission_id) DO UPDATE
		SET status = EXCLUDED.status, project_id = EXCLUDED.project_id, updated_at = NOW()
	`, s.ID, s.ClientID, s.Status, s.ProjectID)
	if err != nil {
		return translate("sync project request", err)
	}
	return nil
}
