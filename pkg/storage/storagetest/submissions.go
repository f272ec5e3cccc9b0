package storagetest

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// SubmissionRepo implements storage.SubmissionStore
type SubmissionRepo struct{ s *Store }

var _ storage.SubmissionStore = (*SubmissionRepo)(nil)

func (r *SubmissionRepo) matching(filter storage.SubmissionFilter) []*storage.Submission {
	out := []*storage.Submission{}
	for _, sub := range r.s.submissions {
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		if filter.ClientID != nil && sub.ClientID != *filter.ClientID {
			continue
		}
		out = append(out, cloneSubmission(sub))
	}
	slices.SortFunc(out, func(a, b *storage.Submission) int { return newestFirst(a.CreatedAt, b.CreatedAt) })
	return out
}

func cloneSubmission(sub *storage.Submission) *storage.Submission {
	c := clone(sub)
	c.Step1Data = cloneJSON(sub.Step1Data)
	c.Step2Data = cloneJSON(sub.Step2Data)
	return c
}

func (r *SubmissionRepo) List(ctx context.Context, filter storage.SubmissionFilter) ([]*storage.Submission, error) {
	if err := r.s.enter("submissions.list"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	return page(r.matching(filter), filter.Page), nil
}

func (r *SubmissionRepo) Count(ctx context.Context, filter storage.SubmissionFilter) (int, error) {
	if err := r.s.enter("submissions.count"); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *SubmissionRepo) Get(ctx context.Context, id uuid.UUID) (*storage.Submission, error) {
	if err := r.s.enter("submissions.get"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	sub, ok := r.s.submissions[id]
	if !ok {
		return nil, notFound("get submission")
	}
	return cloneSubmission(sub), nil
}

// Create always stores a pending submission
func (r *SubmissionRepo) Create(ctx context.Context, sub *storage.Submission) error {
	if err := r.s.enter("submissions.create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	sub.Status = storage.SubmissionPending
	if sub.Step1Data == nil {
		sub.Step1Data = storage.JSONObject{}
	}
	sub.ID = uuid.New()
	sub.CreatedAt = r.s.tick()
	sub.UpdatedAt = sub.CreatedAt
	r.s.submissions[sub.ID] = cloneSubmission(sub)
	return nil
}

// Put stores a submission as given, bypassing the pending default
func (s *Store) Put(sub storage.Submission) *storage.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.tick()
		sub.UpdatedAt = sub.CreatedAt
	}
	s.submissions[sub.ID] = cloneSubmission(&sub)
	return cloneSubmission(&sub)
}

func (r *SubmissionRepo) MarkApproved(ctx context.Context, id, projectID, reviewerID uuid.UUID) (bool, error) {
	if err := r.s.enter("submissions.mark_approved"); err != nil {
		return false, err
	}
	defer r.s.mu.Unlock()

	sub, ok := r.s.submissions[id]
	if !ok || sub.Status != storage.SubmissionPending {
		return false, nil
	}
	now := r.s.tick()
	sub.Status = storage.SubmissionApproved
	sub.ProjectID = &projectID
	sub.ReviewedBy = &reviewerID
	sub.ReviewedAt = &now
	sub.UpdatedAt = now
	return true, nil
}

func (r *SubmissionRepo) MarkRejected(ctx context.Context, id, reviewerID uuid.UUID, reason string) (bool, error) {
	if err := r.s.enter("submissions.mark_rejected"); err != nil {
		return false, err
	}
	defer r.s.mu.Unlock()

	sub, ok := r.s.submissions[id]
	if !ok || sub.Status != storage.SubmissionPending {
		return false, nil
	}
	now := r.s.tick()
	sub.Status = storage.SubmissionRejected
	sub.RejectionReason = nil
	if reason != "" {
		sub.RejectionReason = &reason
	}
	sub.ReviewedBy = &reviewerID
	sub.ReviewedAt = &now
	sub.UpdatedAt = now
	return true, nil
}

func (r *SubmissionRepo) SyncLegacyRequest(ctx context.Context, sub *storage.Submission) error {
	if err := r.s.enter("submissions.sync_legacy"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.submissions[sub.ID]; !ok {
		return referenceMissing("sync project request")
	}
	r.s.legacy[sub.ID] = storage.Submission{
		ID:        sub.ID,
		ClientID:  sub.ClientID,
		Status:    sub.Status,
		ProjectID: sub.ProjectID,
	}
	return nil
}
