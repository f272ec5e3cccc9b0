package postgres

import (
	"context"

	"github.com/google/uuid"
)

// RelationRepository answers ownership questions for the authorization layer.
// Results are read per request and never cached.
type RelationRepository struct {
	base
}

// IsProjectMember reports whether userID is a member of projectID
func (r *RelationRepository) IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (ok bool, err error) {
	defer r.track("relations.is_member")(&err)

	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID).Scan(&ok)
	if err != nil {
		return false, translate("check project membership", err)
	}
	return ok, nil
}

// ProjectClientID returns the owning client of a project, or nil if unowned
func (r *RelationRepository) ProjectClientID(ctx context.Context, projectID uuid.UUID) (clientID *uuid.UUID, err error) {
	defer r.track("relations.project_client")(&err)

	if err = r.db.QueryRowContext(ctx, `SELECT client_id FROM projects WHERE id = $1`, projectID).Scan(&clientID); err != nil {
		return nil, translate("read project client", err)
	}
	return clientID, nil
}

// TaskRelations returns a task's project and assignee
func (r *RelationRepository) TaskRelations(ctx context.Context, taskID uuid.UUID) (projectID uuid.UUID, assigneeID *uuid.UUID, err error) {
	defer r.track("relations.task")(&err)

	err = r.db.QueryRowContext(ctx, `SELECT project_id, assignee_id FROM tasks WHERE id = $1`, taskID).
		Scan(&projectID, &assigneeID)
	if err != nil {
		return uuid.Nil, nil, translate("read task relations", err)
	}
	return projectID, assigneeID, nil
}

// SubmissionClientID returns the submitting client of a submission
func (r *RelationRepository) SubmissionClientID(ctx context.Context, submissionID uuid.UUID) (clientID uuid.UUID, err error) {
	defer r.track("relations.submission_client")(&err)

	if err = r.db.QueryRowContext(ctx, `SELECT client_id FROM submissions WHERE id = $1`, submissionID).Scan(&clientID); err != nil {
		return uuid.Nil, translate("read submission client", err)
	}
	return clientID, nil
}
