package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

type fakeRelations struct {
	members     map[uuid.UUID][]uuid.UUID
	clients     map[uuid.UUID]*uuid.UUID
	tasks       map[uuid.UUID]fakeTask
	submissions map[uuid.UUID]uuid.UUID
	err         error
}

type fakeTask struct {
	project  uuid.UUID
	assignee *uuid.UUID
}

func (f *fakeRelations) IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, m := range f.members[projectID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRelations) ProjectClientID(ctx context.Context, projectID uuid.UUID) (*uuid.UUID, error) {
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.clients[projectID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return id, nil
}

func (f *fakeRelations) TaskRelations(ctx context.Context, taskID uuid.UUID) (uuid.UUID, *uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, nil, f.err
	}
	t, ok := f.tasks[taskID]
	if !ok {
		return uuid.Nil, nil, storage.ErrNotFound
	}
	return t.project, t.assignee, nil
}

func (f *fakeRelations) SubmissionClientID(ctx context.Context, submissionID uuid.UUID) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	id, ok := f.submissions[submissionID]
	if !ok {
		return uuid.Nil, storage.ErrNotFound
	}
	return id, nil
}

var (
	me      = uuid.MustParse(testUserID)
	someone = uuid.New()

	memberProject   = uuid.New()
	foreignProject  = uuid.New()
	myTask          = uuid.New()
	teamTask        = uuid.New()
	foreignTask     = uuid.New()
	mySubmission    = uuid.New()
	otherSubmission = uuid.New()
)

func newFakeRelations() *fakeRelations {
	return &fakeRelations{
		members: map[uuid.UUID][]uuid.UUID{
			memberProject: {me},
		},
		clients: map[uuid.UUID]*uuid.UUID{
			memberProject:  &me,
			foreignProject: &someone,
		},
		tasks: map[uuid.UUID]fakeTask{
			myTask:      {project: foreignProject, assignee: &me},
			teamTask:    {project: memberProject},
			foreignTask: {project: foreignProject, assignee: &someone},
		},
		submissions: map[uuid.UUID]uuid.UUID{
			mySubmission:    me,
			otherSubmission: someone,
		},
	}
}

func assertKind(t *testing.T, want apierr.Kind, err error) {
	t.Helper()
	if want == -1 {
		assert.NoError(t, err)
		return
	}
	require.Error(t, err)
	assert.Equal(t, want, apierr.KindOf(err))
}

const allowed apierr.Kind = -1

func TestOwnership_CanAccessProject(t *testing.T) {
	o := NewOwnership(newFakeRelations())
	ctx := context.Background()

	tests := []struct {
		name    string
		role    auth.Role
		project uuid.UUID
		want    apierr.Kind
	}{
		{"admin foreign", auth.RoleAdmin, foreignProject, allowed},
		{"manager missing", auth.RoleManager, uuid.New(), allowed},
		{"employee member", auth.RoleEmployee, memberProject, allowed},
		{"employee not member", auth.RoleEmployee, foreignProject, apierr.KindForbidden},
		{"employee missing project", auth.RoleEmployee, uuid.New(), apierr.KindForbidden},
		{"client owner", auth.RoleClient, memberProject, allowed},
		{"client not owner", auth.RoleClient, foreignProject, apierr.KindForbidden},
		{"client missing project", auth.RoleClient, uuid.New(), apierr.KindForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertKind(t, tt.want, o.CanAccessProject(ctx, userFor(tt.role), tt.project))
		})
	}
}

func TestOwnership_CanAccessTask(t *testing.T) {
	o := NewOwnership(newFakeRelations())
	ctx := context.Background()

	tests := []struct {
		name string
		role auth.Role
		task uuid.UUID
		want apierr.Kind
	}{
		{"admin any", auth.RoleAdmin, foreignTask, allowed},
		{"employee assignee", auth.RoleEmployee, myTask, allowed},
		{"employee project member", auth.RoleEmployee, teamTask, allowed},
		{"employee unrelated", auth.RoleEmployee, foreignTask, apierr.KindForbidden},
		{"employee missing task", auth.RoleEmployee, uuid.New(), apierr.KindForbidden},
		{"client owns project", auth.RoleClient, teamTask, allowed},
		{"client assignee does not count", auth.RoleClient, myTask, apierr.KindForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertKind(t, tt.want, o.CanAccessTask(ctx, userFor(tt.role), tt.task))
		})
	}
}

func TestOwnership_CanAccessSubmission(t *testing.T) {
	o := NewOwnership(newFakeRelations())
	ctx := context.Background()

	assertKind(t, allowed, o.CanAccessSubmission(ctx, userFor(auth.RoleManager), otherSubmission))
	assertKind(t, allowed, o.CanAccessSubmission(ctx, userFor(auth.RoleClient), mySubmission))
	assertKind(t, apierr.KindForbidden, o.CanAccessSubmission(ctx, userFor(auth.RoleClient), otherSubmission))
	assertKind(t, apierr.KindForbidden, o.CanAccessSubmission(ctx, userFor(auth.RoleClient), uuid.New()))
	assertKind(t, apierr.KindForbidden, o.CanAccessSubmission(ctx, userFor(auth.RoleEmployee), mySubmission))
}

func TestOwnership_StoreFailureIsUpstream(t *testing.T) {
	rel := newFakeRelations()
	rel.err = errors.New("connection reset")
	o := NewOwnership(rel)
	ctx := context.Background()

	assertKind(t, apierr.KindUpstream, o.CanAccessProject(ctx, userFor(auth.RoleEmployee), memberProject))
	assertKind(t, apierr.KindUpstream, o.CanAccessTask(ctx, userFor(auth.RoleClient), teamTask))
	assertKind(t, apierr.KindUpstream, o.CanAccessSubmission(ctx, userFor(auth.RoleClient), mySubmission))
}

func TestOwnership_NonUUIDSubject(t *testing.T) {
	o := NewOwnership(newFakeRelations())
	user := userFor(auth.RoleEmployee)
	user.ID = "not-a-uuid"

	assertKind(t, apierr.KindForbidden, o.CanAccessProject(context.Background(), user, memberProject))
	_, err := o.ProjectFilter(user, storage.ProjectFilter{})
	assertKind(t, apierr.KindForbidden, err)

	_, err = UserUUID(user)
	assertKind(t, apierr.KindForbidden, err)
}

func TestOwnership_Filters(t *testing.T) {
	o := NewOwnership(newFakeRelations())

	pf, err := o.ProjectFilter(userFor(auth.RoleAdmin), storage.ProjectFilter{Status: "active"})
	require.NoError(t, err)
	assert.Nil(t, pf.MemberID)
	assert.Nil(t, pf.ClientID)
	assert.Equal(t, "active", pf.Status)

	pf, err = o.ProjectFilter(userFor(auth.RoleEmployee), storage.ProjectFilter{})
	require.NoError(t, err)
	require.NotNil(t, pf.MemberID)
	assert.Equal(t, me, *pf.MemberID)

	pf, err = o.ProjectFilter(userFor(auth.RoleClient), storage.ProjectFilter{})
	require.NoError(t, err)
	require.NotNil(t, pf.ClientID)
	assert.Equal(t, me, *pf.ClientID)

	tf, err := o.TaskFilter(userFor(auth.RoleEmployee), storage.TaskFilter{})
	require.NoError(t, err)
	require.NotNil(t, tf.VisibleTo)
	assert.Nil(t, tf.ClientID)

	tf, err = o.TaskFilter(userFor(auth.RoleClient), storage.TaskFilter{})
	require.NoError(t, err)
	require.NotNil(t, tf.ClientID)

	sf, err := o.SubmissionFilter(userFor(auth.RoleClient), storage.SubmissionFilter{})
	require.NoError(t, err)
	require.NotNil(t, sf.ClientID)

	_, err = o.SubmissionFilter(userFor(auth.RoleEmployee), storage.SubmissionFilter{})
	assertKind(t, apierr.KindForbidden, err)
}
