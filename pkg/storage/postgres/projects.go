package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// ProjectRepository implements storage.ProjectStore
type ProjectRepository struct {
	base
}

var _ storage.ProjectStore = (*ProjectRepository)(nil)

const projectColumns = `id, name, description, client_id, status, priority, budget, start_date,
	end_date, step2_data, submission_id, created_by, created_at, updated_at`

func scanProject(row rowScanner) (*storage.Project, error) {
	var p storage.Project
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.ClientID, &p.Status, &p.Priority, &p.Budget, &p.StartDate,
		&p.EndDate, &p.Step2Data, &p.SubmissionID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func projectWhere(filter storage.ProjectFilter) *where {
	w := &where{}
	w.addEq("status", filter.Status)
	if filter.ClientID != nil {
		w.add("client_id = ?", *filter.ClientID)
	}
	if filter.MemberID != nil {
		w.add("id IN (SELECT project_id FROM project_members WHERE user_id = ?)", *filter.MemberID)
	}
	return w
}

// List returns projects, newest first
func (r *ProjectRepository) List(ctx context.Context, filter storage.ProjectFilter) (out []*storage.Project, err error) {
	defer r.track("projects.list")(&err)

	w := projectWhere(filter)
	query := `SELECT ` + projectColumns + ` FROM projects` + w.sql() +
		` ORDER BY created_at DESC` + w.page(filter.Page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list projects", err)
	}
	defer rows.Close()

	out = []*storage.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get retrieves a project by id
func (r *ProjectRepository) Get(ctx context.Context, id uuid.UUID) (p *storage.Project, err error) {
	defer r.track("projects.get")(&err)

	p, err = scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get project", err)
	}
	return p, nil
}

// Create inserts a project and fills in generated columns
func (r *ProjectRepository) Create(ctx context.Context, p *storage.Project) (err error) {
	defer r.track("projects.create")(&err)

	if p.Status == "" {
		p.Status = storage.DefaultProjectStatus
	}
	if p.Priority == "" {
		p.Priority = storage.DefaultPriority
	}

	query := `
		INSERT INTO projects (name, description, client_id, status, priority, budget, start_date,
			end_date, step2_data, submission_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		p.Name, p.Description, p.ClientID, p.Status, p.Priority, p.Budget, p.StartDate,
		p.EndDate, p.Step2Data, p.SubmissionID, p.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return translate("create project", err)
	}
	return nil
}

// Update applies the non-nil fields of patch
func (r *ProjectRepository) Update(ctx context.Context, id uuid.UUID, patch storage.ProjectPatch) (p *storage.Project, err error) {
	defer r.track("projects.update")(&err)

	s := &set{}
	if patch.Name != nil {
		s.add("name", *patch.Name)
	}
	if patch.Description != nil {
		s.add("description", *patch.Description)
	}
	if patch.ClientID != nil {
		s.add("client_id", *patch.ClientID)
	}
	if patch.Status != nil {
		s.add("status", *patch.Status)
	}
	if patch.Priority != nil {
		s.add("priority", *patch.Priority)
	}
	if patch.Budget != nil {
		s.add("budget", *patch.Budget)
	}
	if patch.StartDate != nil {
		s.add("start_date", *patch.StartDate)
	}
	if patch.EndDate != nil {
		s.add("end_date", *patch.EndDate)
	}

	if s.empty() {
		return r.Get(ctx, id)
	}

	query, args := s.update("projects", id, projectColumns)
	p, err = scanProject(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, translate("update project", err)
	}
	return p, nil
}

// Delete removes a project; tasks, members, comments and attachment rows cascade
func (r *ProjectRepository) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer r.track("projects.delete")(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return translate("delete project", err)
	}
	return requireAffected("delete project", res)
}

// Count returns the number of projects matching filter
func (r *ProjectRepository) Count(ctx context.Context, filter storage.ProjectFilter) (n int, err error) {
	defer r.track("projects.count")(&err)

	w := projectWhere(filter)
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, translate("count projects", err)
	}
	return n, nil
}

// Step2Data reads back the carried-over intake document
func (r *ProjectRepository) Step2Data(ctx context.Context, id uuid.UUID) (data storage.JSONObject, err error) {
	defer r.track("projects.step2_data")(&err)

	if err = r.db.QueryRowContext(ctx, `SELECT step2_data FROM projects WHERE id = $1`, id).Scan(&data); err != nil {
		return nil, translate("read project step2 data", err)
	}
	return data, nil
}

// SetStep2Data overwrites the carried-over intake document
func (r *ProjectRepository) SetStep2Data(ctx context.Context, id uuid.UUID, data storage.JSONObject) (err error) {
	defer r.track("projects.set_step2_data")(&err)

	res, err := r.db.ExecContext(ctx,
		`UPDATE projects SET step2_data = $1, updated_at = NOW() WHERE id = $2`, data, id)
	if err != nil {
		return translate("write project step2 data", err)
	}
	return requireAffected("write project step2 data", res)
}

// ListMembers returns a project's members in the order they were added
func (r *ProjectRepository) ListMembers(ctx context.Context, projectID uuid.UUID) (out []*storage.ProjectMember, err error) {
	defer r.track("projects.list_members")(&err)

	rows, err := r.db.QueryContext(ctx, `
		SELECT project_id, user_id, role, added_at
		FROM project_members
		WHERE project_id = $1
		ORDER BY added_at
	`, projectID)
	if err != nil {
		return nil, translate("list project members", err)
	}
	defer rows.Close()

	out = []*storage.ProjectMember{}
	for rows.Next() {
		var m storage.ProjectMember
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// AddMember links a user to a project. An existing membership is kept as is.
func (r *ProjectRepository) AddMember(ctx context.Context, m *storage.ProjectMember) (err error) {
	defer r.track("projects.add_member")(&err)

	if m.Role == "" {
		m.Role = "member"
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO UPDATE SET project_id = EXCLUDED.project_id
		RETURNING role, added_at
	`, m.ProjectID, m.UserID, m.Role).Scan(&m.Role, &m.AddedAt)
	if err != nil {
		return translate("add project member", err)
	}
	return nil
}

// RemoveMember unlinks a user from a project
func (r *ProjectRepository) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) (err error) {
	defer r.track("projects.remove_member")(&err)

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return translate("remove project member", err)
	}
	return requireAffected("remove project member", res)
}
