package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a uniqueness constraint
	ErrConflict = errors.New("record already exists")

	// ErrReferenceMissing is returned when a write references a missing record
	ErrReferenceMissing = errors.New("referenced record does not exist")
)

// ProfileStore persists identity metadata
type ProfileStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Profile, error)
	Upsert(ctx context.Context, profile *Profile) (*Profile, error)
}

// EmployeeStore persists staff records
type EmployeeStore interface {
	List(ctx context.Context, filter EmployeeFilter) ([]*Employee, error)
	Get(ctx context.Context, id uuid.UUID) (*Employee, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Employee, error)
	Create(ctx context.Context, employee *Employee) error
	Update(ctx context.Context, id uuid.UUID, patch EmployeePatch) (*Employee, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context, filter EmployeeFilter) (int, error)
}

// ProjectStore persists projects and their membership
type ProjectStore interface {
	List(ctx context.Context, filter ProjectFilter) ([]*Project, error)
	Get(ctx context.Context, id uuid.UUID) (*Project, error)
	Create(ctx context.Context, project *Project) error
	Update(ctx context.Context, id uuid.UUID, patch ProjectPatch) (*Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context, filter ProjectFilter) (int, error)

	// Step2Data reads back the carried-over intake document
	Step2Data(ctx context.Context, id uuid.UUID) (JSONObject, error)
	// SetStep2Data overwrites the carried-over intake document
	SetStep2Data(ctx context.Context, id uuid.UUID, data JSONObject) error

	ListMembers(ctx context.Context, projectID uuid.UUID) ([]*ProjectMember, error)
	// AddMember is idempotent; an existing membership is left untouched
	AddMember(ctx context.Context, member *ProjectMember) error
	RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error
}

// TaskStore persists tasks
type TaskStore interface {
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	Create(ctx context.Context, task *Task) error
	Update(ctx context.Context, id uuid.UUID, patch TaskPatch) (*Task, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context, filter TaskFilter) (int, error)
}

// SubmissionStore persists project intake submissions
type SubmissionStore interface {
	List(ctx context.Context, filter SubmissionFilter) ([]*Submission, error)
	Get(ctx context.Context, id uuid.UUID) (*Submission, error)
	Create(ctx context.Context, submission *Submission) error
	Count(ctx context.Context, filter SubmissionFilter) (int, error)

	// MarkApproved moves a pending submission to approved. It reports false
	// when the submission was no longer pending.
	MarkApproved(ctx context.Context, id, projectID, reviewerID uuid.UUID) (bool, error)
	// MarkRejected moves a pending submission to rejected. It reports false
	// when the submission was no longer pending.
	MarkRejected(ctx context.Context, id, reviewerID uuid.UUID, reason string) (bool, error)
	// SyncLegacyRequest mirrors the submission's status into project_requests
	SyncLegacyRequest(ctx context.Context, submission *Submission) error
}

// JobStore persists job postings and applications
type JobStore interface {
	List(ctx context.Context, filter JobFilter) ([]*Job, error)
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, id uuid.UUID, patch JobPatch) (*Job, error)
	Delete(ctx context.Context, id uuid.UUID) error

	ListApplications(ctx context.Context, filter ApplicationFilter) ([]*JobApplication, error)
	CreateApplication(ctx context.Context, app *JobApplication) error
	UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status string) (*JobApplication, error)
}

// CommentStore persists comments
type CommentStore interface {
	ListForProject(ctx context.Context, projectID uuid.UUID, page Page) ([]*Comment, error)
	ListForTask(ctx context.Context, taskID uuid.UUID, page Page) ([]*Comment, error)
	Get(ctx context.Context, id uuid.UUID) (*Comment, error)
	Create(ctx context.Context, comment *Comment) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AttachmentStore persists attachment metadata
type AttachmentStore interface {
	List(ctx context.Context, projectID uuid.UUID, page Page) ([]*Attachment, error)
	Get(ctx context.Context, id uuid.UUID) (*Attachment, error)
	Create(ctx context.Context, attachment *Attachment) error
	Delete(ctx context.Context, id uuid.UUID) error
	StorageKeys(ctx context.Context, projectID uuid.UUID) ([]string, error)
}

// ContactStore persists contact form submissions
type ContactStore interface {
	List(ctx context.Context, filter ContactFilter) ([]*ContactSubmission, error)
	Create(ctx context.Context, contact *ContactSubmission) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*ContactSubmission, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context, filter ContactFilter) (int, error)
}

// EmailStore persists the shared inbox
type EmailStore interface {
	List(ctx context.Context, filter EmailFilter) ([]*Email, error)
	Get(ctx context.Context, id uuid.UUID) (*Email, error)
	Update(ctx context.Context, id uuid.UUID, patch EmailPatch) (*Email, error)
	Create(ctx context.Context, email *Email) error
	// Upsert inserts a provider message once; it reports whether a new row was written
	Upsert(ctx context.Context, email *Email) (bool, error)
	LatestReceivedAt(ctx context.Context, mailbox string) (*time.Time, error)
	Count(ctx context.Context, filter EmailFilter) (int, error)
}

// ActivityStore persists the activity feed
type ActivityStore interface {
	Record(ctx context.Context, entry *ActivityEntry) error
	List(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error)
}
