package storage

import (
	"time"

	"github.com/google/uuid"
)

// Enumerations for record status fields
var (
	EmployeeStatuses    = []string{"active", "inactive", "on_leave"}
	ProjectStatuses     = []string{"planning", "in_progress", "on_hold", "completed", "cancelled"}
	Priorities          = []string{"low", "medium", "high", "urgent"}
	TaskStatuses        = []string{"todo", "in_progress", "review", "done"}
	SubmissionStatuses  = []string{SubmissionPending, SubmissionApproved, SubmissionRejected}
	JobStatuses         = []string{"open", "closed"}
	EmploymentTypes     = []string{"full_time", "part_time", "contract", "internship"}
	ApplicationStatuses = []string{"new", "reviewing", "interview", "offered", "hired", "rejected"}
	ContactStatuses     = []string{"new", "read", "replied", "archived"}
	EmailDirections     = []string{EmailInbound, EmailOutbound}
	MemberRoles         = []string{"owner", "member", "client", "viewer"}
)

const (
	SubmissionPending  = "pending"
	SubmissionApproved = "approved"
	SubmissionRejected = "rejected"

	DefaultProjectStatus = "planning"
	DefaultPriority      = "medium"

	EmailInbound  = "inbound"
	EmailOutbound = "outbound"
)

// Profile is identity metadata for an identity provider subject
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Employee is a staff record
type Employee struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	Position   string     `json:"position"`
	Department string     `json:"department"`
	Status     string     `json:"status"`
	HireDate   *Date      `json:"hire_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// EmployeePatch holds the fields a partial update may change
type EmployeePatch struct {
	UserID     *uuid.UUID `json:"user_id"`
	FirstName  *string    `json:"first_name"`
	LastName   *string    `json:"last_name"`
	Email      *string    `json:"email"`
	Phone      *string    `json:"phone"`
	Position   *string    `json:"position"`
	Department *string    `json:"department"`
	Status     *string    `json:"status"`
	HireDate   *Date      `json:"hire_date"`
}

// Project is a client engagement
type Project struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	ClientID     *uuid.UUID `json:"client_id,omitempty"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	Budget       *float64   `json:"budget,omitempty"`
	StartDate    *Date      `json:"start_date,omitempty"`
	EndDate      *Date      `json:"end_date,omitempty"`
	Step2Data    JSONObject `json:"step2_data"`
	SubmissionID *uuid.UUID `json:"submission_id,omitempty"`
	CreatedBy    *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ProjectPatch holds the fields a partial update may change
type ProjectPatch struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	ClientID    *uuid.UUID `json:"client_id"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
	Budget      *float64   `json:"budget"`
	StartDate   *Date      `json:"start_date"`
	EndDate     *Date      `json:"end_date"`
}

// ProjectMember links a user to a project
type ProjectMember struct {
	ProjectID uuid.UUID `json:"project_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
	AddedAt   time.Time `json:"added_at"`
}

// Task is a unit of work inside a project
type Task struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
	DueDate     *Date      `json:"due_date,omitempty"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskPatch holds the fields a partial update may change
type TaskPatch struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
	AssigneeID  *uuid.UUID `json:"assignee_id"`
	DueDate     *Date      `json:"due_date"`
}

// Submission is a client's two-step project intake request
type Submission struct {
	ID              uuid.UUID  `json:"id"`
	ClientID        uuid.UUID  `json:"client_id"`
	Status          string     `json:"status"`
	Step1Data       JSONObject `json:"step1_data"`
	Step2Data       JSONObject `json:"step2_data"`
	ProjectID       *uuid.UUID `json:"project_id,omitempty"`
	ReviewedBy      *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Job is a public job posting
type Job struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Department     string    `json:"department"`
	Location       string    `json:"location"`
	EmploymentType string    `json:"employment_type"`
	Description    string    `json:"description"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JobPatch holds the fields a partial update may change
type JobPatch struct {
	Title          *string `json:"title"`
	Department     *string `json:"department"`
	Location       *string `json:"location"`
	EmploymentType *string `json:"employment_type"`
	Description    *string `json:"description"`
	Status         *string `json:"status"`
}

// JobApplication is a candidate's application to a job
type JobApplication struct {
	ID          uuid.UUID `json:"id"`
	JobID       uuid.UUID `json:"job_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	ResumeURL   string    `json:"resume_url"`
	CoverLetter string    `json:"cover_letter"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Comment is a note on a project or one of its tasks
type Comment struct {
	ID        uuid.UUID  `json:"id"`
	ProjectID uuid.UUID  `json:"project_id"`
	TaskID    *uuid.UUID `json:"task_id,omitempty"`
	AuthorID  uuid.UUID  `json:"author_id"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
}

// Attachment is file metadata; the bytes live in object storage under StorageKey
type Attachment struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	TaskID      *uuid.UUID `json:"task_id,omitempty"`
	FileName    string     `json:"file_name"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	StorageKey  string     `json:"-"`
	UploadedBy  uuid.UUID  `json:"uploaded_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ContactSubmission is a public contact form entry
type ContactSubmission struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company"`
	Phone     string    `json:"phone"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Email is a message in the shared inbox
type Email struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  string    `json:"provider_id"`
	Mailbox     string    `json:"mailbox"`
	FromAddress string    `json:"from_address"`
	ToAddresses []string  `json:"to_addresses"`
	Subject     string    `json:"subject"`
	BodyText    string    `json:"body_text"`
	ReceivedAt  time.Time `json:"received_at"`
	IsRead      bool      `json:"is_read"`
	IsArchived  bool      `json:"is_archived"`
	Direction   string    `json:"direction"`
	InReplyTo   *string   `json:"in_reply_to,omitempty"`
}

// EmailPatch holds the inbox flags a caller may change
type EmailPatch struct {
	IsRead     *bool `json:"is_read"`
	IsArchived *bool `json:"is_archived"`
}

// ActivityEntry records a notable action
type ActivityEntry struct {
	ID         uuid.UUID  `json:"id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Details    JSONObject `json:"details,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Page bounds a list query
type Page struct {
	Limit  int
	Offset int
}

// EmployeeFilter narrows employee lists
type EmployeeFilter struct {
	Status     string
	Department string
	Search     string
	Page
}

// ProjectFilter narrows project lists. MemberID and ClientID restrict results
// to projects the given user belongs to or owns.
type ProjectFilter struct {
	MemberID *uuid.UUID
	ClientID *uuid.UUID
	Status   string
	Page
}

// TaskFilter narrows task lists. VisibleTo restricts results to tasks the user
// is assigned to or whose project they are a member of.
type TaskFilter struct {
	ProjectID  *uuid.UUID
	AssigneeID *uuid.UUID
	VisibleTo  *uuid.UUID
	ClientID   *uuid.UUID
	Status     string
	Page
}

// SubmissionFilter narrows submission lists
type SubmissionFilter struct {
	ClientID *uuid.UUID
	Status   string
	Page
}

// JobFilter narrows job lists
type JobFilter struct {
	Status string
	Page
}

// ApplicationFilter narrows job application lists
type ApplicationFilter struct {
	JobID  *uuid.UUID
	Status string
	Page
}

// ContactFilter narrows contact submission lists
type ContactFilter struct {
	Status string
	Page
}

// EmailFilter narrows inbox lists
type EmailFilter struct {
	Mailbox    string
	Direction  string
	UnreadOnly bool
	Archived   bool
	Page
}

// ActivityFilter narrows activity lists
type ActivityFilter struct {
	EntityType string
	EntityID   string
	ActorID    *uuid.UUID
	Page
}

// Contains reports whether value is one of values
func Contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
