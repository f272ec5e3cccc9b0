package storagetest

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// EmployeeRepo implements storage.EmployeeStore
type EmployeeRepo struct{ s *Store }

var _ storage.EmployeeStore = (*EmployeeRepo)(nil)

func (r *EmployeeRepo) matching(filter storage.EmployeeFilter) []*storage.Employee {
	search := strings.ToLower(filter.Search)
	out := []*storage.Employee{}
	for _, e := range r.s.employees {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Department != "" && e.Department != filter.Department {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.FirstName), search) &&
			!strings.Contains(strings.ToLower(e.LastName), search) &&
			!strings.Contains(strings.ToLower(e.Email), search) {
			continue
		}
		out = append(out, clone(e))
	}
	slices.SortFunc(out, func(a, b *storage.Employee) int {
		if c := strings.Compare(a.LastName, b.LastName); c != 0 {
			return c
		}
		return strings.Compare(a.FirstName, b.FirstName)
	})
	return out
}

func (r *EmployeeRepo) List(ctx context.Context, filter storage.EmployeeFilter) ([]*storage.Employee, error) {
	if err := r.s.enter("employees.list"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	return page(r.matching(filter), filter.Page), nil
}

func (r *EmployeeRepo) Count(ctx context.Context, filter storage.EmployeeFilter) (int, error) {
	if err := r.s.enter("employees.count"); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *EmployeeRepo) Get(ctx context.Context, id uuid.UUID) (*storage.Employee, error) {
	if err := r.s.enter("employees.get"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	e, ok := r.s.employees[id]
	if !ok {
		return nil, notFound("get employee")
	}
	return clone(e), nil
}

func (r *EmployeeRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*storage.Employee, error) {
	if err := r.s.enter("employees.get_by_user"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	for _, e := range r.s.employees {
		if e.UserID != nil && *e.UserID == userID {
			return clone(e), nil
		}
	}
	return nil, notFound("get employee by user")
}

func (r *EmployeeRepo) Create(ctx context.Context, e *storage.Employee) error {
	if err := r.s.enter("employees.create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	for _, existing := range r.s.employees {
		if strings.EqualFold(existing.Email, e.Email) {
			return conflict("create employee")
		}
	}
	if e.Status == "" {
		e.Status = "active"
	}
	e.ID = uuid.New()
	e.CreatedAt = r.s.tick()
	e.UpdatedAt = e.CreatedAt
	r.s.employees[e.ID] = clone(e)
	return nil
}

func (r *EmployeeRepo) Update(ctx context.Context, id uuid.UUID, patch storage.EmployeePatch) (*storage.Employee, error) {
	if err := r.s.enter("employees.update"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	e, ok := r.s.employees[id]
	if !ok {
		return nil, notFound("update employee")
	}
	if patch.Email != nil {
		for otherID, other := range r.s.employees {
			if otherID != id && strings.EqualFold(other.Email, *patch.Email) {
				return nil, conflict("update employee")
			}
		}
		e.Email = *patch.Email
	}
	if patch.UserID != nil {
		e.UserID = patch.UserID
	}
	if patch.FirstName != nil {
		e.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		e.LastName = *patch.LastName
	}
	if patch.Phone != nil {
		e.Phone = *patch.Phone
	}
	if patch.Position != nil {
		e.Position = *patch.Position
	}
	if patch.Department != nil {
		e.Department = *patch.Department
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.HireDate != nil {
		e.HireDate = patch.HireDate
	}
	e.UpdatedAt = r.s.tick()
	return clone(e), nil
}

func (r *EmployeeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter("employees.delete"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.employees[id]; !ok {
		return notFound("delete employee")
	}
	delete(r.s.employees, id)
	return nil
}

// JobRepo implements storage.JobStore
type JobRepo struct{ s *Store }

var _ storage.JobStore = (*JobRepo)(nil)

func (r *JobRepo) List(ctx context.Context, filter storage.JobFilter) ([]*storage.Job, error) {
	if err := r.s.enter("jobs.list"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	out := []*storage.Job{}
	for _, j := range r.s.jobs {
		if filter.Status == "" || j.Status == filter.Status {
			out = append(out, clone(j))
		}
	}
	slices.SortFunc(out, func(a, b *storage.Job) int { return newestFirst(a.CreatedAt, b.CreatedAt) })
	return page(out, filter.Page), nil
}

func (r *JobRepo) Get(ctx context.Context, id uuid.UUID) (*storage.Job, error) {
	if err := r.s.enter("jobs.get"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return nil, notFound("get job")
	}
	return clone(j), nil
}

func (r *JobRepo) Create(ctx context.Context, j *storage.Job) error {
	if err := r.s.enter("jobs.create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if j.Status == "" {
		j.Status = "open"
	}
	if j.EmploymentType == "" {
		j.EmploymentType = "full_time"
	}
	j.ID = uuid.New()
	j.CreatedAt = r.s.tick()
	j.UpdatedAt = j.CreatedAt
	r.s.jobs[j.ID] = clone(j)
	return nil
}

func (r *JobRepo) Update(ctx context.Context, id uuid.UUID, patch storage.JobPatch) (*storage.Job, error) {
	if err := r.s.enter("jobs.update"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return nil, notFound("update job")
	}
	if patch.Title != nil {
		j.Title = *patch.Title
	}
	if patch.Department != nil {
		j.Department = *patch.Department
	}
	if patch.Location != nil {
		j.Location = *patch.Location
	}
	if patch.EmploymentType != nil {
		j.EmploymentType = *patch.EmploymentType
	}
	if patch.Description != nil {
		j.Description = *patch.Description
	}
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	j.UpdatedAt = r.s.tick()
	return clone(j), nil
}

func (r *JobRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter("jobs.delete"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.jobs[id]; !ok {
		return notFound("delete job")
	}
	delete(r.s.jobs, id)
	for aid, a := range r.s.applications {
		if a.JobID == id {
			delete(r.s.applications, aid)
		}
	}
	return nil
}

func (r *JobRepo) ListApplications(ctx context.Context, filter storage.ApplicationFilter) ([]*storage.JobApplication, error) {
	if err := r.s.enter("jobs.list_applications"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	out := []*storage.JobApplication{}
	for _, a := range r.s.applications {
		if filter.JobID != nil && a.JobID != *filter.JobID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, clone(a))
	}
	slices.SortFunc(out, func(a, b *storage.JobApplication) int { return newestFirst(a.CreatedAt, b.CreatedAt) })
	return page(out, filter.Page), nil
}

// CreateApplication accepts applications to open jobs only
func (r *JobRepo) CreateApplication(ctx context.Context, a *storage.JobApplication) error {
	if err := r.s.enter("jobs.create_application"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	job, ok := r.s.jobs[a.JobID]
	if !ok || job.Status != "open" {
		return notFound("create job application")
	}
	a.Status = "new"
	a.ID = uuid.New()
	a.CreatedAt = r.s.tick()
	a.UpdatedAt = a.CreatedAt
	r.s.applications[a.ID] = clone(a)
	return nil
}

func (r *JobRepo) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status string) (*storage.JobApplication, error) {
	if err := r.s.enter("jobs.update_application"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	a, ok := r.s.applications[id]
	if !ok {
		return nil, notFound("update job application")
	}
	a.Status = status
	a.UpdatedAt = r.s.tick()
	return clone(a), nil
}

// CommentRepo implements storage.CommentStore
type CommentRepo struct{ s *Store }

var _ storage.CommentStore = (*CommentRepo)(nil)

func (r *CommentRepo) list(op string, match func(*storage.Comment) bool, p storage.Page) ([]*storage.Comment, error) {
	if err := r.s.enter(op); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	out := []*storage.Comment{}
	for _, c := range r.s.comments {
		if match(c) {
			out = append(out, clone(c))
		}
	}
	slices.SortFunc(out, func(a, b *storage.Comment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return page(out, p), nil
}

func (r *CommentRepo) ListForProject(ctx context.Context, projectID uuid.UUID, p storage.Page) ([]*storage.Comment, error) {
	return r.list("comments.list_project", func(c *storage.Comment) bool { return c.ProjectID == projectID }, p)
}

func (r *CommentRepo) ListForTask(ctx context.Context, taskID uuid.UUID, p storage.Page) ([]*storage.Comment, error) {
	return r.list("comments.list_task", func(c *storage.Comment) bool {
		return c.TaskID != nil && *c.TaskID == taskID
	}, p)
}

func (r *CommentRepo) Get(ctx context.Context, id uuid.UUID) (*storage.Comment, error) {
	if err := r.s.enter("comments.get"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	c, ok := r.s.comments[id]
	if !ok {
		return nil, notFound("get comment")
	}
	return clone(c), nil
}

func (r *CommentRepo) Create(ctx context.Context, c *storage.Comment) error {
	if err := r.s.enter("comments.create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.projects[c.ProjectID]; !ok {
		return referenceMissing("create comment")
	}
	if c.TaskID != nil {
		if _, ok := r.s.tasks[*c.TaskID]; !ok {
			return referenceMissing("create comment")
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = r.s.tick()
	r.s.comments[c.ID] = clone(c)
	return nil
}

func (r *CommentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter("comments.delete"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.comments[id]; !ok {
		return notFound("delete comment")
	}
	delete(r.s.comments, id)
	return nil
}

// AttachmentRepo implements storage.AttachmentStore
type AttachmentRepo struct{ s *Store }

var _ storage.AttachmentStore = (*AttachmentRepo)(nil)

func (r *AttachmentRepo) List(ctx context.Context, projectID uuid.UUID, p storage.Page) ([]*storage.Attachment, error) {
	if err := r.s.enter("attachments.list"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	out := []*storage.Attachment{}
	for _, a := range r.s.attachments {
		if a.ProjectID == projectID {
			out = append(out, clone(a))
		}
	}
	slices.SortFunc(out, func(a, b *storage.Attachment) int { return newestFirst(a.CreatedAt, b.CreatedAt) })
	return page(out, p), nil
}

func (r *AttachmentRepo) Get(ctx context.Context, id uuid.UUID) (*storage.Attachment, error) {
	if err := r.s.enter("attachments.get"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	a, ok := r.s.attachments[id]
	if !ok {
		return nil, notFound("get attachment")
	}
	return clone(a), nil
}

func (r *AttachmentRepo) Create(ctx context.Context, a *storage.Attachment) error {
	if err := r.s.enter("attachments.create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.projects[a.ProjectID]; !ok {
		return referenceMissing("create attachment")
	}
	for _, existing := range r.s.attachments {
		if existing.StorageKey == a.StorageKey {
			return conflict("create attachment")
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = r.s.tick()
	r.s.attachments[a.ID] = clone(a)
	return nil
}

func (r *AttachmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter("attachments.delete"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.attachments[id]; !ok {
		return notFound("delete attachment")
	}
	delete(r.s.attachments, id)
	return nil
}

func (r *AttachmentRepo) StorageKeys(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	if err := r.s.enter("attachments.storage_keys"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	keys := []string{}
	for _, a := range r.s.attachments {
		if a.ProjectID == projectID {
			keys = append(keys, a.StorageKey)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// ContactRepo implements storage.ContactStore
type ContactRepo struct{ s *Store }

var _ storage.ContactStore = (*ContactRepo)(nil)

func (r *ContactRepo) matching(filter storage.ContactFilter) []*storage.ContactSubmission {
	out := []*storage.ContactSubmission{}
	for _, c := range r.s.contacts {
		if filter.Status == "" || c.Status == filter.Status {
			out = append(out, clone(c))
		}
	}
	slices.SortFunc(out, func(a, b *storage.ContactSubmission) int { return newestFirst(a.CreatedAt, b.CreatedAt) })
	return out
}

func (r *ContactRepo) List(ctx context.Context, filter storage.ContactFilter) ([]*storage.ContactSubmission, error) {
	if err := r.s.enter("contacts.list"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	return page(r.matching(filter), filter.Page), nil
}

func (r *ContactRepo) Count(ctx context.Context, filter storage.ContactFilter) (int, error) {
	if err := r.s.enter("contacts.count"); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *ContactRepo) Create(ctx context.Context, c *storage.ContactSubmission) error {
	if err := r.s.enter("contacts.create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	c.Status = "new"
	c.ID = uuid.New()
	c.CreatedAt = r.s.tick()
	r.s.contacts[c.ID] = clone(c)
	return nil
}

func (r *ContactRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*storage.ContactSubmission, error) {
	if err := r.s.enter("contacts.update_status"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	c, ok := r.s.contacts[id]
	if !ok {
		return nil, notFound("update contact")
	}
	c.Status = status
	return clone(c), nil
}

func (r *ContactRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter("contacts.delete"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.contacts[id]; !ok {
		return notFound("delete contact")
	}
	delete(r.s.contacts, id)
	return nil
}

// EmailRepo implements storage.EmailStore
type EmailRepo struct{ s *Store }

var _ storage.EmailStore = (*EmailRepo)(nil)

func cloneEmail(e *storage.Email) *storage.Email {
	c := clone(e)
	c.ToAddresses = append([]string{}, e.ToAddresses...)
	return c
}

func (r *EmailRepo) matching(filter storage.EmailFilter) []*storage.Email {
	out := []*storage.Email{}
	for _, e := range r.s.emails {
		if filter.Mailbox != "" && e.Mailbox != filter.Mailbox {
			continue
		}
		if filter.Direction != "" && e.Direction != filter.Direction {
			continue
		}
		if filter.UnreadOnly && e.IsRead {
			continue
		}
		if e.IsArchived != filter.Archived {
			continue
		}
		out = append(out, cloneEmail(e))
	}
	slices.SortFunc(out, func(a, b *storage.Email) int { return newestFirst(a.ReceivedAt, b.ReceivedAt) })
	return out
}

func (r *EmailRepo) List(ctx context.Context, filter storage.EmailFilter) ([]*storage.Email, error) {
	if err := r.s.enter("emails.list"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	return page(r.matching(filter), filter.Page), nil
}

func (r *EmailRepo) Count(ctx context.Context, filter storage.EmailFilter) (int, error) {
	if err := r.s.enter("emails.count"); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *EmailRepo) Get(ctx context.Context, id uuid.UUID) (*storage.Email, error) {
	if err := r.s.enter("emails.get"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	e, ok := r.s.emails[id]
	if !ok {
		return nil, notFound("get email")
	}
	return cloneEmail(e), nil
}

func (r *EmailRepo) Update(ctx context.Context, id uuid.UUID, patch storage.EmailPatch) (*storage.Email, error) {
	if err := r.s.enter("emails.update"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	e, ok := r.s.emails[id]
	if !ok {
		return nil, notFound("update email")
	}
	if patch.IsRead != nil {
		e.IsRead = *patch.IsRead
	}
	if patch.IsArchived != nil {
		e.IsArchived = *patch.IsArchived
	}
	return cloneEmail(e), nil
}

func (r *EmailRepo) Create(ctx context.Context, e *storage.Email) error {
	if err := r.s.enter("emails.create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if e.ProviderID == "" {
		e.ProviderID = "local-" + uuid.NewString()
	}
	if r.s.hasProviderID(e.ProviderID) {
		return conflict("create email")
	}
	e.ID = uuid.New()
	r.s.emails[e.ID] = cloneEmail(e)
	return nil
}

func (r *EmailRepo) Upsert(ctx context.Context, e *storage.Email) (bool, error) {
	if err := r.s.enter("emails.upsert"); err != nil {
		return false, err
	}
	defer r.s.mu.Unlock()

	if e.Direction == "" {
		e.Direction = storage.EmailInbound
	}
	if r.s.hasProviderID(e.ProviderID) {
		return false, nil
	}
	e.ID = uuid.New()
	r.s.emails[e.ID] = cloneEmail(e)
	return true, nil
}

func (r *EmailRepo) LatestReceivedAt(ctx context.Context, mailbox string) (*time.Time, error) {
	if err := r.s.enter("emails.latest"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	var latest *time.Time
	for _, e := range r.s.emails {
		if e.Mailbox != mailbox || e.Direction != storage.EmailInbound {
			continue
		}
		if latest == nil || e.ReceivedAt.After(*latest) {
			ts := e.ReceivedAt
			latest = &ts
		}
	}
	return latest, nil
}

func (s *Store) hasProviderID(id string) bool {
	for _, e := range s.emails {
		if e.ProviderID == id {
			return true
		}
	}
	return false
}

// ActivityRepo implements storage.ActivityStore
type ActivityRepo struct{ s *Store }

var _ storage.ActivityStore = (*ActivityRepo)(nil)

func (r *ActivityRepo) Record(ctx context.Context, entry *storage.ActivityEntry) error {
	if err := r.s.enter("activity.record"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	entry.ID = uuid.New()
	entry.CreatedAt = r.s.tick()
	r.s.activity = append(r.s.activity, clone(entry))
	return nil
}

func (r *ActivityRepo) List(ctx context.Context, filter storage.ActivityFilter) ([]*storage.ActivityEntry, error) {
	if err := r.s.enter("activity.list"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	out := []*storage.ActivityEntry{}
	for _, e := range r.s.activity {
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if filter.ActorID != nil && (e.ActorID == nil || *e.ActorID != *filter.ActorID) {
			continue
		}
		out = append(out, clone(e))
	}
	slices.SortFunc(out, func(a, b *storage.ActivityEntry) int { return newestFirst(a.CreatedAt, b.CreatedAt) })
	return page(out, filter.Page), nil
}
