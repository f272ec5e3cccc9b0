// Package storagetest provides an in-memory implementation of the storage
// interfaces for service and handler tests. It keeps the defaults, ordering
// and error translation of the postgres repositories so tests exercise the
// same contracts without a database.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// Store holds every table in memory. Operation names passed to FailOn and
// Hook match the metric labels of the postgres repositories, for example
// "projects.create" or "submissions.mark_approved".
type Store struct {
	mu       sync.Mutex
	now      time.Time
	failures map[string]error
	hooks    map[string]func()

	profiles     map[uuid.UUID]*storage.Profile
	employees    map[uuid.UUID]*storage.Employee
	projects     map[uuid.UUID]*storage.Project
	members      []*storage.ProjectMember
	tasks        map[uuid.UUID]*storage.Task
	submissions  map[uuid.UUID]*storage.Submission
	legacy       map[uuid.UUID]storage.Submission
	jobs         map[uuid.UUID]*storage.Job
	applications map[uuid.UUID]*storage.JobApplication
	comments     map[uuid.UUID]*storage.Comment
	attachments  map[uuid.UUID]*storage.Attachment
	contacts     map[uuid.UUID]*storage.ContactSubmission
	emails       map[uuid.UUID]*storage.Email
	activity     []*storage.ActivityEntry

	Profiles    *ProfileRepo
	Employees   *EmployeeRepo
	Projects    *ProjectRepo
	Tasks       *TaskRepo
	Submissions *SubmissionRepo
	Jobs        *JobRepo
	Comments    *CommentRepo
	Attachments *AttachmentRepo
	Contacts    *ContactRepo
	Emails      *EmailRepo
	Activity    *ActivityRepo
	Relations   *RelationRepo
}

// New returns an empty store
func New() *Store {
	s := &Store{
		now:          time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		failures:     make(map[string]error),
		hooks:        make(map[string]func()),
		profiles:     make(map[uuid.UUID]*storage.Profile),
		employees:    make(map[uuid.UUID]*storage.Employee),
		projects:     make(map[uuid.UUID]*storage.Project),
		tasks:        make(map[uuid.UUID]*storage.Task),
		submissions:  make(map[uuid.UUID]*storage.Submission),
		legacy:       make(map[uuid.UUID]storage.Submission),
		jobs:         make(map[uuid.UUID]*storage.Job),
		applications: make(map[uuid.UUID]*storage.JobApplication),
		comments:     make(map[uuid.UUID]*storage.Comment),
		attachments:  make(map[uuid.UUID]*storage.Attachment),
		contacts:     make(map[uuid.UUID]*storage.ContactSubmission),
		emails:       make(map[uuid.UUID]*storage.Email),
	}
	s.Profiles = &ProfileRepo{s}
	s.Employees = &EmployeeRepo{s}
	s.Projects = &ProjectRepo{s}
	s.Tasks = &TaskRepo{s}
	s.Submissions = &SubmissionRepo{s}
	s.Jobs = &JobRepo{s}
	s.Comments = &CommentRepo{s}
	s.Attachments = &AttachmentRepo{s}
	s.Contacts = &ContactRepo{s}
	s.Emails = &EmailRepo{s}
	s.Activity = &ActivityRepo{s}
	s.Relations = &RelationRepo{s}
	return s
}

// FailOn makes every later call of op return err. A nil err clears it.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Hook runs fn at the start of every later call of op, before the store
// lock is taken, so fn may itself call the store.
func (s *Store) Hook(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.hooks, op)
		return
	}
	s.hooks[op] = fn
}

// Legacy returns the mirrored project request row of a submission
func (s *Store) Legacy(submissionID uuid.UUID) (storage.Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.legacy[submissionID]
	return row, ok
}

// ActivityEntries returns every recorded entry, oldest first
func (s *Store) ActivityEntries() []storage.ActivityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.ActivityEntry, 0, len(s.activity))
	for _, e := range s.activity {
		out = append(out, *e)
	}
	return out
}

// enter runs the hook for op and returns its injected failure. On success the
// caller holds the store lock and must release it.
func (s *Store) enter(op string) error {
	s.mu.Lock()
	hook := s.hooks[op]
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	if err := s.failures[op]; err != nil {
		s.mu.Unlock()
		return err
	}
	return nil
}

// tick returns a strictly increasing timestamp so creation order is stable
func (s *Store) tick() time.Time {
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

func notFound(op string) error {
	return fmt.Errorf("failed to %s: %w", op, storage.ErrNotFound)
}

func page[T any](items []T, p storage.Page) []T {
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

func newestFirst(a, b time.Time) int {
	return b.Compare(a)
}

func clone[T any](v *T) *T {
	c := *v
	return &c
}

func cloneJSON(j storage.JSONObject) storage.JSONObject {
	if j == nil {
		return nil
	}
	out := make(storage.JSONObject, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}

// ProfileRepo implements storage.ProfileStore and auth.ProfileLookup
type ProfileRepo struct{ s *Store }

var (
	_ storage.ProfileStore = (*ProfileRepo)(nil)
	_ auth.ProfileLookup   = (*ProfileRepo)(nil)
)

func (r *ProfileRepo) Get(ctx context.Context, id uuid.UUID) (*storage.Profile, error) {
	if err := r.s.enter("profiles.get"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil, notFound("get profile")
	}
	return clone(p), nil
}

// Upsert keeps the stored role and a non-empty stored name
func (r *ProfileRepo) Upsert(ctx context.Context, profile *storage.Profile) (*storage.Profile, error) {
	if err := r.s.enter("profiles.upsert"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	for id, p := range r.s.profiles {
		if id != profile.ID && strings.EqualFold(p.Email, profile.Email) {
			return nil, fmt.Errorf("failed to upsert profile: %w", storage.ErrConflict)
		}
	}

	if existing, ok := r.s.profiles[profile.ID]; ok {
		existing.Email = profile.Email
		if profile.FullName != "" {
			existing.FullName = profile.FullName
		}
		return clone(existing), nil
	}

	p := clone(profile)
	if p.Role == "" {
		p.Role = string(auth.RoleClient)
	}
	p.CreatedAt = r.s.tick()
	r.s.profiles[p.ID] = p
	return clone(p), nil
}

func (r *ProfileRepo) GetProfile(ctx context.Context, id string) (*auth.Profile, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, auth.ErrProfileNotFound
	}
	p, err := r.Get(ctx, uid)
	if err != nil {
		if storageNotFound(err) {
			return nil, auth.ErrProfileNotFound
		}
		return nil, err
	}
	return toAuthProfile(p)
}

func (r *ProfileRepo) EnsureProfile(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	uid, err := uuid.Parse(profile.ID)
	if err != nil {
		return nil, fmt.Errorf("subject %q is not a uuid: %w", profile.ID, err)
	}
	p, err := r.Upsert(ctx, &storage.Profile{
		ID:       uid,
		Email:    profile.Email,
		FullName: profile.FullName,
		Role:     string(profile.Role),
	})
	if err != nil {
		return nil, err
	}
	return toAuthProfile(p)
}

func toAuthProfile(p *storage.Profile) (*auth.Profile, error) {
	role, ok := auth.ParseRole(p.Role)
	if !ok {
		return nil, fmt.Errorf("profile %s has unknown role %q", p.ID, p.Role)
	}
	return &auth.Profile{ID: p.ID.String(), Email: p.Email, FullName: p.FullName, Role: role}, nil
}

// RelationRepo answers ownership questions
type RelationRepo struct{ s *Store }

func (r *RelationRepo) IsProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	if err := r.s.enter("relations.is_member"); err != nil {
		return false, err
	}
	defer r.s.mu.Unlock()
	return r.s.isMember(projectID, userID), nil
}

func (r *RelationRepo) ProjectClientID(ctx context.Context, projectID uuid.UUID) (*uuid.UUID, error) {
	if err := r.s.enter("relations.project_client"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	p, ok := r.s.projects[projectID]
	if !ok {
		return nil, notFound("read project client")
	}
	return p.ClientID, nil
}

func (r *RelationRepo) TaskRelations(ctx context.Context, taskID uuid.UUID) (uuid.UUID, *uuid.UUID, error) {
	if err := r.s.enter("relations.task"); err != nil {
		return uuid.Nil, nil, err
	}
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[taskID]
	if !ok {
		return uuid.Nil, nil, notFound("read task relations")
	}
	return t.ProjectID, t.AssigneeID, nil
}

func (r *RelationRepo) SubmissionClientID(ctx context.Context, submissionID uuid.UUID) (uuid.UUID, error) {
	if err := r.s.enter("relations.submission_client"); err != nil {
		return uuid.Nil, err
	}
	defer r.s.mu.Unlock()

	sub, ok := r.s.submissions[submissionID]
	if !ok {
		return uuid.Nil, notFound("read submission client")
	}
	return sub.ClientID, nil
}

func (s *Store) isMember(projectID, userID uuid.UUID) bool {
	return slices.ContainsFunc(s.members, func(m *storage.ProjectMember) bool {
		return m.ProjectID == projectID && m.UserID == userID
	})
}

func storageNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func referenceMissing(op string) error {
	return fmt.Errorf("failed to %s: %w", op, storage.ErrReferenceMissing)
}

func conflict(op string) error {
	return fmt.Errorf("failed to %s: %w", op, storage.ErrConflict)
}
