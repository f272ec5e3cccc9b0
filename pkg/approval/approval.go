package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/broadcast"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// Transition outcomes counted in opsdesk_submission_transitions_total
const (
	outcomeApproved        = "approved"
	outcomeAlreadyApproved = "already_approved"
	outcomeLostRace        = "lost_race"
	outcomeRejected        = "rejected"
	outcomeAlreadyRejected = "already_rejected"
	outcomeConflict        = "conflict"
	outcomeError           = "error"
)

// Overrides are reviewer-supplied project fields that take precedence over
// the submission's intake answers
type Overrides struct {
	ProjectName *string       `json:"project_name"`
	Description *string       `json:"description"`
	Status      *string       `json:"status"`
	Priority    *string       `json:"priority"`
	Budget      *float64      `json:"budget"`
	StartDate   *storage.Date `json:"start_date"`
	EndDate     *storage.Date `json:"end_date"`
}

// Validate checks the enumerated override fields
func (o Overrides) Validate() error {
	details := map[string]string{}
	if o.ProjectName != nil && strings.TrimSpace(*o.ProjectName) == "" {
		details["project_name"] = "must not be blank"
	}
	if o.Status != nil && !storage.Contains(storage.ProjectStatuses, *o.Status) {
		details["status"] = "must be one of " + strings.Join(storage.ProjectStatuses, ", ")
	}
	if o.Priority != nil && !storage.Contains(storage.Priorities, *o.Priority) {
		details["priority"] = "must be one of " + strings.Join(storage.Priorities, ", ")
	}
	if o.Budget != nil && *o.Budget < 0 {
		details["budget"] = "must not be negative"
	}
	if o.StartDate != nil && o.EndDate != nil && o.EndDate.Before(o.StartDate.Time) {
		details["end_date"] = "must not be before start_date"
	}
	if len(details) > 0 {
		return apierr.InvalidFields(details)
	}
	return nil
}

// Outcome is the result of a review decision
type Outcome struct {
	SubmissionID    uuid.UUID        `json:"submission_id"`
	Status          string           `json:"status"`
	ProjectID       *uuid.UUID       `json:"project_id,omitempty"`
	AlreadyApproved bool             `json:"already_approved,omitempty"`
	AlreadyRejected bool             `json:"already_rejected,omitempty"`
	Project         *storage.Project `json:"project,omitempty"`
}

// Service moves submissions through review. A submission leaves pending at
// most once; the guarded store update decides concurrent reviews.
type Service struct {
	submissions storage.SubmissionStore
	projects    storage.ProjectStore
	recorder    *activity.Recorder
	publisher   broadcast.Publisher
	metrics     *observability.Metrics
}

// NewService creates the review service. recorder, publisher and metrics may be nil.
func NewService(submissions storage.SubmissionStore, projects storage.ProjectStore,
	recorder *activity.Recorder, publisher broadcast.Publisher, metrics *observability.Metrics) *Service {
	return &Service{
		submissions: submissions,
		projects:    projects,
		recorder:    recorder,
		publisher:   publisher,
		metrics:     metrics,
	}
}

func (s *Service) count(transition, outcome string) {
	if s.metrics != nil {
		s.metrics.ApprovalsTotal.WithLabelValues(transition, outcome).Inc()
	}
}

// Approve turns a pending submission into a project. Approving an approved
// submission reports the existing project and creates nothing.
func (s *Service) Approve(ctx context.Context, id, reviewer uuid.UUID, overrides Overrides) (*Outcome, error) {
	logger := observability.FromContext(ctx).WithField("submission_id", id.String())

	if err := overrides.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.load(ctx, id)
	if err != nil {
		s.count("approve", outcomeError)
		return nil, err
	}

	switch sub.Status {
	case storage.SubmissionApproved:
		s.count("approve", outcomeAlreadyApproved)
		return &Outcome{SubmissionID: id, Status: sub.Status, ProjectID: sub.ProjectID, AlreadyApproved: true}, nil
	case storage.SubmissionRejected:
		s.count("approve", outcomeConflict)
		return nil, apierr.Validation("Submission has already been rejected")
	}

	project, err := BuildProject(sub, overrides)
	if err != nil {
		return nil, err
	}
	project.CreatedBy = &reviewer

	if err := s.projects.Create(ctx, project); err != nil {
		s.count("approve", outcomeError)
		return nil, apierr.Upstream("failed to create project", err)
	}

	won, err := s.submissions.MarkApproved(ctx, id, project.ID, reviewer)
	if err != nil {
		s.compensate(ctx, project.ID)
		s.count("approve", outcomeError)
		return nil, apierr.Upstream("failed to approve submission", err)
	}
	if !won {
		return s.lostRace(ctx, id, project.ID)
	}

	s.verifyCarryOver(ctx, project)
	logger.WithField("project_id", project.ID.String()).Info("submission approved")

	sub.Status = storage.SubmissionApproved
	sub.ProjectID = &project.ID
	sub.ReviewedBy = &reviewer
	s.afterApprove(ctx, sub, project, reviewer)

	s.count("approve", outcomeApproved)
	return &Outcome{SubmissionID: id, Status: storage.SubmissionApproved, ProjectID: &project.ID, Project: project}, nil
}

// lostRace undoes this caller's project after another review won
func (s *Service) lostRace(ctx context.Context, id, orphan uuid.UUID) (*Outcome, error) {
	s.compensate(ctx, orphan)
	s.count("approve", outcomeLostRace)

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case storage.SubmissionApproved:
		return &Outcome{SubmissionID: id, Status: current.Status, ProjectID: current.ProjectID, AlreadyApproved: true}, nil
	case storage.SubmissionRejected:
		return nil, apierr.Validation("Submission has already been rejected")
	}
	return nil, apierr.Upstream("failed to approve submission",
		fmt.Errorf("submission %s still %s after guarded update", id, current.Status))
}

func (s *Service) compensate(ctx context.Context, projectID uuid.UUID) {
	s.recorder.Do(ctx, activity.KindCompensation, func(ctx context.Context) error {
		if err := s.projects.Delete(ctx, projectID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to delete orphaned project %s: %w", projectID, err)
		}
		return nil
	})
}

// verifyCarryOver reads back the project's intake document and rewrites it
// when the stored copy differs from what was sent
func (s *Service) verifyCarryOver(ctx context.Context, project *storage.Project) {
	if project.Step2Data == nil {
		return
	}
	s.recorder.Do(ctx, activity.KindCarryOver, func(ctx context.Context) error {
		stored, err := s.projects.Step2Data(ctx, project.ID)
		if err == nil && sameDocument(stored, project.Step2Data) {
			return nil
		}
		observability.FromContext(ctx).WithField("project_id", project.ID.String()).
			Warn("intake document did not carry over, rewriting")
		if err := s.projects.SetStep2Data(ctx, project.ID, project.Step2Data); err != nil {
			return fmt.Errorf("failed to rewrite step2 data: %w", err)
		}
		return nil
	})
}

func (s *Service) afterApprove(ctx context.Context, sub *storage.Submission, project *storage.Project, reviewer uuid.UUID) {
	s.recorder.Do(ctx, activity.KindMembership, func(ctx context.Context) error {
		return s.projects.AddMember(ctx, &storage.ProjectMember{
			ProjectID: project.ID,
			UserID:    sub.ClientID,
			Role:      "client",
		})
	})
	s.recorder.Do(ctx, activity.KindLegacySync, func(ctx context.Context) error {
		return s.submissions.SyncLegacyRequest(ctx, sub)
	})
	s.recorder.Record(ctx, reviewer.String(), activity.ActionSubmissionApproved, "submission", sub.ID.String(),
		storage.JSONObject{"project_id": project.ID.String()})
	s.publish(ctx, broadcast.TypeSubmissionApproved, map[string]string{
		"submission_id": sub.ID.String(),
		"project_id":    project.ID.String(),
		"client_id":     sub.ClientID.String(),
	})
}

// Reject closes a pending submission. Rejecting a rejected submission
// succeeds without change; rejecting an approved one is refused.
func (s *Service) Reject(ctx context.Context, id, reviewer uuid.UUID, reason string) (*Outcome, error) {
	reason = strings.TrimSpace(reason)

	won, err := s.submissions.MarkRejected(ctx, id, reviewer, reason)
	if err != nil {
		s.count("reject", outcomeError)
		return nil, apierr.Upstream("failed to reject submission", err)
	}

	if won {
		s.count("reject", outcomeRejected)
		s.afterReject(ctx, id, reviewer, reason)
		return &Outcome{SubmissionID: id, Status: storage.SubmissionRejected}, nil
	}

	sub, err := s.load(ctx, id)
	if err != nil {
		s.count("reject", outcomeError)
		return nil, err
	}

	switch sub.Status {
	case storage.SubmissionRejected:
		s.count("reject", outcomeAlreadyRejected)
		return &Outcome{SubmissionID: id, Status: sub.Status, AlreadyRejected: true}, nil
	case storage.SubmissionApproved:
		s.count("reject", outcomeConflict)
		return nil, apierr.Validation("Submission has already been approved")
	}
	s.count("reject", outcomeError)
	return nil, apierr.Upstream("failed to reject submission",
		fmt.Errorf("submission %s still %s after guarded update", id, sub.Status))
}

func (s *Service) afterReject(ctx context.Context, id, reviewer uuid.UUID, reason string) {
	s.recorder.Do(ctx, activity.KindLegacySync, func(ctx context.Context) error {
		sub, err := s.submissions.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to reload submission: %w", err)
		}
		return s.submissions.SyncLegacyRequest(ctx, sub)
	})

	details := storage.JSONObject{}
	if reason != "" {
		details["reason"] = reason
	}
	s.recorder.Record(ctx, reviewer.String(), activity.ActionSubmissionRejected, "submission", id.String(), details)
	s.publish(ctx, broadcast.TypeSubmissionRejected, map[string]string{"submission_id": id.String()})
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*storage.Submission, error) {
	sub, err := s.submissions.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apierr.NotFound("Submission")
	}
	if err != nil {
		return nil, apierr.Upstream("failed to load submission", err)
	}
	return sub, nil
}

func (s *Service) publish(ctx context.Context, eventType string, data interface{}) {
	if s.publisher == nil {
		return
	}
	s.recorder.Do(ctx, activity.KindBroadcast, func(ctx context.Context) error {
		evt, err := broadcast.NewEvent(broadcast.ChannelSubmissions, eventType, data)
		if err != nil {
			return err
		}
		return s.publisher.Publish(ctx, evt)
	})
}

// BuildProject derives the project for a submission. Overrides win over the
// intake answers; the intake document is carried over without null values.
func BuildProject(sub *storage.Submission, o Overrides) (*storage.Project, error) {
	step1 := sub.Step1Data
	clientID := sub.ClientID
	submissionID := sub.ID

	p := &storage.Project{
		ClientID:     &clientID,
		SubmissionID: &submissionID,
		Status:       storage.DefaultProjectStatus,
		Priority:     storage.DefaultPriority,
		Step2Data:    StripNulls(sub.Step2Data),
	}

	switch {
	case o.ProjectName != nil:
		p.Name = strings.TrimSpace(*o.ProjectName)
	default:
		if name, ok := step1.String("project_name"); ok {
			p.Name = strings.TrimSpace(name)
		} else if name, ok := step1.String("name"); ok {
			p.Name = strings.TrimSpace(name)
		}
	}
	if p.Name == "" {
		return nil, apierr.InvalidFields(map[string]string{
			"project_name": "required when the submission has no project name",
		})
	}

	if o.Description != nil {
		p.Description = *o.Description
	} else if d, ok := step1.String("description"); ok {
		p.Description = d
	}

	if o.Status != nil {
		p.Status = *o.Status
	} else if st, ok := step1.String("status"); ok && storage.Contains(storage.ProjectStatuses, st) {
		p.Status = st
	}

	if o.Priority != nil {
		p.Priority = *o.Priority
	} else if pr, ok := step1.String("priority"); ok && storage.Contains(storage.Priorities, pr) {
		p.Priority = pr
	}

	if o.Budget != nil {
		p.Budget = o.Budget
	} else if b, ok := step1.Float("budget"); ok && b >= 0 {
		p.Budget = &b
	}

	p.StartDate = pickDate(o.StartDate, step1, "start_date")
	p.EndDate = pickDate(o.EndDate, step1, "end_date")

	return p, nil
}

func pickDate(override *storage.Date, step1 storage.JSONObject, key string) *storage.Date {
	if override != nil {
		return override
	}
	raw, ok := step1.String(key)
	if !ok {
		return nil
	}
	d, err := storage.ParseDate(raw)
	if err != nil {
		return nil
	}
	return &d
}

// sameDocument compares two documents by their canonical JSON encoding
func sameDocument(a, b storage.JSONObject) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
