package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// JobRepository implements storage.JobStore
type JobRepository struct {
	base
}

var _ storage.JobStore = (*JobRepository)(nil)

const jobColumns = `id, title, department, location, employment_type, description, status, created_at, updated_at`

const applicationColumns = `id, job_id, full_name, email, phone, resume_url, cover_letter, status, created_at, updated_at`

func scanJob(row rowScanner) (*storage.Job, error) {
	var j storage.Job
	err := row.Scan(&j.ID, &j.Title, &j.Department, &j.Location, &j.EmploymentType,
		&j.Description, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanApplication(row rowScanner) (*storage.JobApplication, error) {
	var a storage.JobApplication
	err := row.Scan(&a.ID, &a.JobID, &a.FullName, &a.Email, &a.Phone, &a.ResumeURL,
		&a.CoverLetter, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns job postings, newest first
func (r *JobRepository) List(ctx context.Context, filter storage.JobFilter) (out []*storage.Job, err error) {
	defer r.track("jobs.list")(&err)

	w := &where{}
	w.addEq("status", filter.Status)
	query := `SELECT ` + jobColumns + ` FROM jobs` + w.sql() +
		` ORDER BY created_at DESC` + w.page(filter.Page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list jobs", err)
	}
	defer rows.Close()

	out = []*storage.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Get retrieves a job posting by id
func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (j *storage.Job, err error) {
	defer r.track("jobs.get")(&err)

	j, err = scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get job", err)
	}
	return j, nil
}

// Create inserts a job posting
func (r *JobRepository) Create(ctx context.Context, j *storage.Job) (err error) {
	defer r.track("jobs.create")(&err)

	if j.Status == "" {
		j.Status = "open"
	}
	if j.EmploymentType == "" {
		j.EmploymentType = "full_time"
	}

	query := `
		INSERT INTO jobs (title, department, location, employment_type, description, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		j.Title, j.Department, j.Location, j.EmploymentType, j.Description, j.Status,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return translate("create job", err)
	}
	return nil
}

// Update applies the non-nil fields of patch
func (r *JobRepository) Update(ctx context.Context, id uuid.UUID, patch storage.JobPatch) (j *storage.Job, err error) {
	defer r.track("jobs.update")(&err)

	s := &set{}
	if patch.Title != nil {
		s.add("title", *patch.Title)
	}
	if patch.Department != nil {
		s.add("department", *patch.Department)
	}
	if patch.Location != nil {
		s.add("location", *patch.Location)
	}
	if patch.EmploymentType != nil {
		s.add("employment_type", *patch.EmploymentType)
	}
	if patch.Description != nil {
		s.add("description", *patch.Description)
	}
	if patch.Status != nil {
		s.add("status", *patch.Status)
	}

	if s.empty() {
		return r.Get(ctx, id)
	}

	query, args := s.update("jobs", id, jobColumns)
	j, err = scanJob(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, translate("update job", err)
	}
	return j, nil
}

// Delete removes a job posting and its applications
func (r *JobRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer r.track("jobs.delete")(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return translate("delete job", err)
	}
	return requireAffected("delete job", res)
}

// ListApplications returns applications, newest first
func (r *JobRepository) ListApplications(ctx context.Context, filter storage.ApplicationFilter) (out []*storage.JobApplication, err error) {
	defer r.track("jobs.list_applications")(&err)

	w := &where{}
	w.addEq("status", filter.Status)
	if filter.JobID != nil {
		w.add("job_id = ?", *filter.JobID)
	}
	query := `SELECT ` + applicationColumns + ` FROM job_applications` + w.sql() +
		` ORDER BY created_at DESC` + w.page(filter.Page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list applications", err)
	}
	defer rows.Close()

	out = []*storage.JobApplication{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateApplication inserts an application for an open job. A closed or
// missing job yields ErrNotFound.
func (r *JobRepository) CreateApplication(ctx context.Context, a *storage.JobApplication) (err error) {
	defer r.track("jobs.create_application")(&err)

	a.Status = "new"

	query := `
		INSERT INTO job_applications (job_id, full_name, email, phone, resume_url, cover_letter, status)
		SELECT id, $2, $3, $4, $5, $6, $7 FROM jobs WHERE id = $1 AND status = 'open'
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		a.JobID, a.FullName, a.Email, a.Phone, a.ResumeURL, a.CoverLetter, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return translate("create application", err)
	}
	return nil
}

// UpdateApplicationStatus moves an application through the hiring pipeline
func (r *JobRepository) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status string) (a *storage.JobApplication, err error) {
	defer r.track("jobs.update_application")(&err)

	a, err = scanApplication(r.db.QueryRowContext(ctx, `
		UPDATE job_applications SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+applicationColumns, status, id))
	if err != nil {
		return nil, translate("update application", err)
	}
	return a, nil
}
