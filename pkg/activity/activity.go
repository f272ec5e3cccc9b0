// Package activity records the activity feed and runs best-effort side effects.
//
// A best-effort call never fails its caller: errors and panics are logged with
// a side_effect field and counted in opsdesk_side_effect_failures_total.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/async"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// Actions written to the activity feed
const (
	ActionSubmissionCreated  = "submission.created"
	ActionSubmissionApproved = "submission.approved"
	ActionSubmissionRejected = "submission.rejected"
	ActionProjectCreated     = "project.created"
	ActionProjectUpdated     = "project.updated"
	ActionProjectDeleted     = "project.deleted"
	ActionMemberAdded        = "project.member_added"
	ActionMemberRemoved      = "project.member_removed"
	ActionTaskCreated        = "task.created"
	ActionTaskUpdated        = "task.updated"
	ActionTaskDeleted        = "task.deleted"
	ActionEmployeeCreated    = "employee.created"
	ActionEmployeeUpdated    = "employee.updated"
	ActionEmployeeDeleted    = "employee.deleted"
	ActionJobCreated         = "job.created"
	ActionApplicationCreated = "application.created"
	ActionContactCreated     = "contact.created"
	ActionEmailSent          = "email.sent"
	ActionAttachmentAdded    = "attachment.added"
	ActionAttachmentDeleted  = "attachment.deleted"
)

// Side effect kinds used as the metric label
const (
	KindActivity      = "activity"
	KindBroadcast     = "broadcast"
	KindLegacySync    = "legacy_sync"
	KindMembership    = "membership"
	KindObjectCleanup = "object_cleanup"
	KindCompensation  = "compensation"
	KindCarryOver     = "carry_over"
	KindMarkRead      = "mark_read"
)

// BestEffort runs fn and swallows its failure
func BestEffort(ctx context.Context, metrics *observability.Metrics, kind string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SideEffectFailed(kind)
			observability.FromContext(ctx).WithField("side_effect", kind).Errorf("panic in side effect: %v", r)
		}
	}()

	if err := fn(ctx); err != nil {
		metrics.SideEffectFailed(kind)
		observability.FromContext(ctx).WithField("side_effect", kind).WithError(err).Warn("side effect failed")
	}
}

// Recorder writes activity entries and runs side effects on behalf of handlers
type Recorder struct {
	store   storage.ActivityStore
	metrics *observability.Metrics
	timeout time.Duration
}

// NewRecorder creates a recorder. store and metrics may be nil.
func NewRecorder(store storage.ActivityStore, metrics *observability.Metrics) *Recorder {
	return &Recorder{store: store, metrics: metrics, timeout: 30 * time.Second}
}

// Record appends an entry to the activity feed, best-effort
func (r *Recorder) Record(ctx context.Context, actorID string, action, entityType, entityID string, details storage.JSONObject) {
	if r == nil || r.store == nil {
		return
	}

	entry := &storage.ActivityEntry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}
	if id, err := uuid.Parse(actorID); err == nil {
		entry.ActorID = &id
	}

	r.Do(ctx, KindActivity, func(ctx context.Context) error {
		if err := r.store.Record(ctx, entry); err != nil {
			return fmt.Errorf("failed to record %s: %w", action, err)
		}
		return nil
	})
}

// Do runs fn inline as a best-effort side effect
func (r *Recorder) Do(ctx context.Context, kind string, fn func(context.Context) error) {
	var metrics *observability.Metrics
	if r != nil {
		metrics = r.metrics
	}
	BestEffort(ctx, metrics, kind, fn)
}

// Detach runs fn in the background as a best-effort side effect. It outlives
// the request that started it.
func (r *Recorder) Detach(ctx context.Context, kind string, fn func(context.Context) error) {
	timeout := 30 * time.Second
	if r != nil && r.timeout > 0 {
		timeout = r.timeout
	}
	async.SafeGo(ctx, timeout, kind, func(ctx context.Context) error {
		r.Do(ctx, kind, fn)
		return nil
	})
}
