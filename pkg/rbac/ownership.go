package rbac

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// Relations answers ownership questions from the store. Lookups of missing
// records return storage.ErrNotFound.
type Relations interface {
	IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	ProjectClientID(ctx context.Context, projectID uuid.UUID) (*uuid.UUID, error)
	TaskRelations(ctx context.Context, taskID uuid.UUID) (projectID uuid.UUID, assigneeID *uuid.UUID, err error)
	SubmissionClientID(ctx context.Context, submissionID uuid.UUID) (uuid.UUID, error)
}

// Ownership narrows access for employees and clients after the gate admitted
// them. Admins and managers are never narrowed. A missing record is reported
// as Forbidden to narrowed callers so the check is not an existence oracle.
type Ownership struct {
	relations Relations
}

// NewOwnership creates an ownership checker
func NewOwnership(relations Relations) *Ownership {
	return &Ownership{relations: relations}
}

// CanAccessProject checks project-level access
func (o *Ownership) CanAccessProject(ctx context.Context, user *auth.User, projectID uuid.UUID) error {
	if user.Role.Unrestricted() {
		return nil
	}
	uid, ok := userUUID(user)
	if !ok {
		return apierr.Forbidden("")
	}

	switch user.Role {
	case auth.RoleEmployee:
		member, err := o.relations.IsProjectMember(ctx, projectID, uid)
		if err != nil {
			return apierr.Upstream("failed to check project membership", err)
		}
		if !member {
			return apierr.Forbidden("Not a member of this project")
		}
		return nil

	case auth.RoleClient:
		clientID, err := o.relations.ProjectClientID(ctx, projectID)
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.Forbidden("")
		}
		if err != nil {
			return apierr.Upstream("failed to load project owner", err)
		}
		if clientID == nil || *clientID != uid {
			return apierr.Forbidden("Not your project")
		}
		return nil
	}

	return apierr.Forbidden("")
}

// CanAccessTask checks task-level access. Employees need to be the assignee
// or a member of the task's project; clients need to own the project.
func (o *Ownership) CanAccessTask(ctx context.Context, user *auth.User, taskID uuid.UUID) error {
	if user.Role.Unrestricted() {
		return nil
	}
	uid, ok := userUUID(user)
	if !ok {
		return apierr.Forbidden("")
	}

	projectID, assigneeID, err := o.relations.TaskRelations(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.Forbidden("")
	}
	if err != nil {
		return apierr.Upstream("failed to load task relations", err)
	}

	if user.Role == auth.RoleEmployee && assigneeID != nil && *assigneeID == uid {
		return nil
	}
	return o.CanAccessProject(ctx, user, projectID)
}

// CanAccessSubmission checks that a client owns the submission
func (o *Ownership) CanAccessSubmission(ctx context.Context, user *auth.User, submissionID uuid.UUID) error {
	if user.Role.Unrestricted() {
		return nil
	}
	if user.Role != auth.RoleClient {
		return apierr.Forbidden("")
	}
	uid, ok := userUUID(user)
	if !ok {
		return apierr.Forbidden("")
	}

	clientID, err := o.relations.SubmissionClientID(ctx, submissionID)
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.Forbidden("")
	}
	if err != nil {
		return apierr.Upstream("failed to load submission owner", err)
	}
	if clientID != uid {
		return apierr.Forbidden("Not your submission")
	}
	return nil
}

// ProjectFilter narrows a project list to what user may see
func (o *Ownership) ProjectFilter(user *auth.User, base storage.ProjectFilter) (storage.ProjectFilter, error) {
	if user.Role.Unrestricted() {
		return base, nil
	}
	uid, ok := userUUID(user)
	if !ok {
		return base, apierr.Forbidden("")
	}

	switch user.Role {
	case auth.RoleEmployee:
		base.MemberID = &uid
	case auth.RoleClient:
		base.ClientID = &uid
	default:
		return base, apierr.Forbidden("")
	}
	return base, nil
}

// TaskFilter narrows a task list to what user may see
func (o *Ownership) TaskFilter(user *auth.User, base storage.TaskFilter) (storage.TaskFilter, error) {
	if user.Role.Unrestricted() {
		return base, nil
	}
	uid, ok := userUUID(user)
	if !ok {
		return base, apierr.Forbidden("")
	}

	switch user.Role {
	case auth.RoleEmployee:
		base.VisibleTo = &uid
	case auth.RoleClient:
		base.ClientID = &uid
	default:
		return base, apierr.Forbidden("")
	}
	return base, nil
}

// SubmissionFilter narrows a submission list to what user may see
func (o *Ownership) SubmissionFilter(user *auth.User, base storage.SubmissionFilter) (storage.SubmissionFilter, error) {
	if user.Role.Unrestricted() {
		return base, nil
	}
	uid, ok := userUUID(user)
	if !ok || user.Role != auth.RoleClient {
		return base, apierr.Forbidden("")
	}
	base.ClientID = &uid
	return base, nil
}

// userUUID parses the caller's subject as a store id
func userUUID(user *auth.User) (uuid.UUID, bool) {
	id, err := uuid.Parse(user.ID)
	return id, err == nil
}

// UserUUID parses the caller's subject as a store id
func UserUUID(user *auth.User) (uuid.UUID, error) {
	id, ok := userUUID(user)
	if !ok {
		return uuid.Nil, apierr.Forbidden("Session subject is not a user id")
	}
	return id, nil
}
