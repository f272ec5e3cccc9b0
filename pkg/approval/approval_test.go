package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/broadcast"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/storage"
	"github.com/platinummonkey/opsdesk/pkg/storage/storagetest"
)

type capture struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (c *capture) Publish(ctx context.Context, evt broadcast.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capture) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []string{}
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store   *storagetest.Store
	service *Service
	events  *capture
	metrics *observability.Metrics
	ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storagetest.New()
	metrics := observability.NewUnregisteredMetrics()
	events := &capture{}
	recorder := activity.NewRecorder(store.Activity, metrics)
	return &fixture{
		store:   store,
		service: NewService(store.Submissions, store.Projects, recorder, events, metrics),
		events:  events,
		metrics: metrics,
		ctx:     observability.WithLogger(context.Background(), observability.NopLogger()),
	}
}

func (f *fixture) submit(t *testing.T, step1, step2 storage.JSONObject) *storage.Submission {
	t.Helper()
	sub := &storage.Submission{ClientID: uuid.New(), Step1Data: step1, Step2Data: step2}
	require.NoError(t, f.store.Submissions.Create(f.ctx, sub))
	return sub
}

func (f *fixture) projectCount(t *testing.T) int {
	t.Helper()
	n, err := f.store.Projects.Count(f.ctx, storage.ProjectFilter{})
	require.NoError(t, err)
	return n
}

func TestApprove_CreatesProject(t *testing.T) {
	f := newFixture(t)
	reviewer := uuid.New()
	sub := f.submit(t,
		storage.JSONObject{"project_name": "Atlas HQ", "description": "Fit-out", "status": "in_progress", "budget": "1500.50"},
		storage.JSONObject{"scope": "full", "notes": nil, "site": map[string]interface{}{"floor": 3.0, "lift": nil}},
	)

	out, err := f.service.Approve(f.ctx, sub.ID, reviewer, Overrides{})
	require.NoError(t, err)
	require.NotNil(t, out.ProjectID)
	assert.False(t, out.AlreadyApproved)
	assert.Equal(t, storage.SubmissionApproved, out.Status)

	project, err := f.store.Projects.Get(f.ctx, *out.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "Atlas HQ", project.Name)
	assert.Equal(t, "Fit-out", project.Description)
	assert.Equal(t, "in_progress", project.Status)
	require.NotNil(t, project.Budget)
	assert.Equal(t, 1500.5, *project.Budget)
	assert.Equal(t, sub.ClientID, *project.ClientID)
	assert.Equal(t, reviewer, *project.CreatedBy)
	assert.Equal(t, storage.JSONObject{"scope": "full", "site": map[string]interface{}{"floor": 3.0}}, project.Step2Data)

	got, err := f.store.Submissions.Get(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.SubmissionApproved, got.Status)
	assert.Equal(t, *out.ProjectID, *got.ProjectID)
	assert.Equal(t, reviewer, *got.ReviewedBy)

	members, err := f.store.Projects.ListMembers(f.ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, sub.ClientID, members[0].UserID)
	assert.Equal(t, "client", members[0].Role)

	legacy, ok := f.store.Legacy(sub.ID)
	require.True(t, ok)
	assert.Equal(t, storage.SubmissionApproved, legacy.Status)

	entries := f.store.ActivityEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, activity.ActionSubmissionApproved, entries[0].Action)

	assert.Equal(t, []string{broadcast.TypeSubmissionApproved}, f.events.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ApprovalsTotal.WithLabelValues("approve", "approved")))
}

func TestApprove_StripsNullsFromIntakeDocument(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, storage.JSONObject{"a": 1.0, "b": nil})

	out, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
	require.NoError(t, err)

	data, err := f.store.Projects.Step2Data(f.ctx, *out.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, storage.JSONObject{"a": 1.0}, data)
}

func TestApprove_DefaultsStatusToPlanning(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, storage.JSONObject{"name": "Harbor", "status": "bogus"}, nil)

	out, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultProjectStatus, out.Project.Status)
	assert.Nil(t, out.Project.Step2Data)
}

func TestApprove_Idempotent(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)

	first, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
	require.NoError(t, err)

	second, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
	require.NoError(t, err)
	assert.True(t, second.AlreadyApproved)
	assert.Equal(t, *first.ProjectID, *second.ProjectID)
	assert.Equal(t, 1, f.projectCount(t))
}

func TestApprove_Errors(t *testing.T) {
	t.Run("missing submission", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Approve(f.ctx, uuid.New(), uuid.New(), Overrides{})
		assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
	})

	t.Run("rejected submission", func(t *testing.T) {
		f := newFixture(t)
		sub := f.store.Put(storage.Submission{ClientID: uuid.New(), Status: storage.SubmissionRejected})
		_, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
		assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
		assert.Equal(t, 0, f.projectCount(t))
	})

	t.Run("invalid overrides", func(t *testing.T) {
		f := newFixture(t)
		sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)
		status := "archived"
		_, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{Status: &status})
		require.Equal(t, apierr.KindValidation, apierr.KindOf(err))
		assert.Contains(t, apierr.PublicDetails(err), "status")
	})

	t.Run("no project name", func(t *testing.T) {
		f := newFixture(t)
		sub := f.submit(t, storage.JSONObject{}, nil)
		_, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
		assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	})

	t.Run("project creation fails", func(t *testing.T) {
		f := newFixture(t)
		sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)
		f.store.FailOn("projects.create", errors.New("connection reset"))

		_, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
		assert.Equal(t, apierr.KindUpstream, apierr.KindOf(err))

		got, err := f.store.Submissions.Get(f.ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, storage.SubmissionPending, got.Status)
	})

	t.Run("guarded update fails", func(t *testing.T) {
		f := newFixture(t)
		sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)
		f.store.FailOn("submissions.mark_approved", errors.New("connection reset"))

		_, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
		assert.Equal(t, apierr.KindUpstream, apierr.KindOf(err))
		assert.Equal(t, 0, f.projectCount(t), "orphaned project is removed")
	})
}

func TestApprove_LostRaceCompensates(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)

	winner := &storage.Project{Name: "Harbor (winner)"}
	require.NoError(t, f.store.Projects.Create(f.ctx, winner))

	f.store.Hook("submissions.mark_approved", func() {
		f.store.Hook("submissions.mark_approved", nil)
		ok, err := f.store.Submissions.MarkApproved(f.ctx, sub.ID, winner.ID, uuid.New())
		require.NoError(t, err)
		require.True(t, ok)
	})

	out, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
	require.NoError(t, err)
	assert.True(t, out.AlreadyApproved)
	assert.Equal(t, winner.ID, *out.ProjectID)
	assert.Equal(t, 1, f.projectCount(t), "only the winner's project remains")
	assert.Empty(t, f.events.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ApprovalsTotal.WithLabelValues("approve", "lost_race")))
}

func TestApprove_LostRaceToRejection(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)

	f.store.Hook("submissions.mark_approved", func() {
		f.store.Hook("submissions.mark_approved", nil)
		_, err := f.store.Submissions.MarkRejected(f.ctx, sub.ID, uuid.New(), "")
		require.NoError(t, err)
	})

	_, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Equal(t, 0, f.projectCount(t))
}

func TestApprove_ConcurrentReviewersCreateOneProject(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, storage.JSONObject{"x": 1.0})

	const reviewers = 8
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, reviewers)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
			if assert.NoError(t, err) {
				ids <- *out.ProjectID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		assert.Equal(t, first, id, "every reviewer sees the same project")
	}
	assert.Equal(t, 1, f.projectCount(t))
}

func TestApprove_RepairsCarryOver(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, storage.JSONObject{"scope": "full"})

	f.store.Hook("projects.step2_data", func() {
		f.store.Hook("projects.step2_data", nil)
		projects, err := f.store.Projects.List(f.ctx, storage.ProjectFilter{})
		require.NoError(t, err)
		require.Len(t, projects, 1)
		f.store.CorruptStep2Data(projects[0].ID, nil)
	})

	out, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
	require.NoError(t, err)

	data, err := f.store.Projects.Step2Data(f.ctx, *out.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, storage.JSONObject{"scope": "full"}, data)
}

func TestApprove_SideEffectFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)

	f.store.FailOn("projects.add_member", errors.New("boom"))
	f.store.FailOn("submissions.sync_legacy", errors.New("boom"))
	f.store.FailOn("activity.record", errors.New("boom"))

	out, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
	require.NoError(t, err)
	assert.NotNil(t, out.ProjectID)

	for _, kind := range []string{activity.KindMembership, activity.KindLegacySync, activity.KindActivity} {
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SideEffectFailuresTotal.WithLabelValues(kind)), kind)
	}
}

func TestReject(t *testing.T) {
	t.Run("pending submission", func(t *testing.T) {
		f := newFixture(t)
		sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)

		out, err := f.service.Reject(f.ctx, sub.ID, uuid.New(), "  out of scope ")
		require.NoError(t, err)
		assert.Equal(t, storage.SubmissionRejected, out.Status)
		assert.False(t, out.AlreadyRejected)

		got, err := f.store.Submissions.Get(f.ctx, sub.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RejectionReason)
		assert.Equal(t, "out of scope", *got.RejectionReason)

		legacy, ok := f.store.Legacy(sub.ID)
		require.True(t, ok)
		assert.Equal(t, storage.SubmissionRejected, legacy.Status)
		assert.Equal(t, []string{broadcast.TypeSubmissionRejected}, f.events.types())
	})

	t.Run("already rejected is idempotent", func(t *testing.T) {
		f := newFixture(t)
		sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)
		_, err := f.service.Reject(f.ctx, sub.ID, uuid.New(), "")
		require.NoError(t, err)

		out, err := f.service.Reject(f.ctx, sub.ID, uuid.New(), "again")
		require.NoError(t, err)
		assert.True(t, out.AlreadyRejected)
		assert.Len(t, f.store.ActivityEntries(), 1)
	})

	t.Run("approved submission", func(t *testing.T) {
		f := newFixture(t)
		sub := f.submit(t, storage.JSONObject{"name": "Harbor"}, nil)
		_, err := f.service.Approve(f.ctx, sub.ID, uuid.New(), Overrides{})
		require.NoError(t, err)

		_, err = f.service.Reject(f.ctx, sub.ID, uuid.New(), "")
		assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	})

	t.Run("missing submission", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Reject(f.ctx, uuid.New(), uuid.New(), "")
		assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t)
		f.store.FailOn("submissions.mark_rejected", errors.New("connection reset"))
		_, err := f.service.Reject(f.ctx, uuid.New(), uuid.New(), "")
		assert.Equal(t, apierr.KindUpstream, apierr.KindOf(err))
	})
}

func TestOutcomeJSON(t *testing.T) {
	pid := uuid.New()
	b, err := json.Marshal(&Outcome{SubmissionID: uuid.Nil, Status: "approved", ProjectID: &pid, AlreadyApproved: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"submission_id":"00000000-0000-0000-0000-000000000000","status":"approved","project_id":"`+pid.String()+`","already_approved":true}`, string(b))
}
