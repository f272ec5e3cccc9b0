package storagetest

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// ProjectRepo implements storage.ProjectStore
type ProjectRepo struct{ s *Store }

var _ storage.ProjectStore = (*ProjectRepo)(nil)

func (r *ProjectRepo) matching(filter storage.ProjectFilter) []*storage.Project {
	out := []*storage.Project{}
	for _, p := range r.s.projects {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.ClientID != nil && (p.ClientID == nil || *p.ClientID != *filter.ClientID) {
			continue
		}
		if filter.MemberID != nil && !r.s.isMember(p.ID, *filter.MemberID) {
			continue
		}
		out = append(out, clone(p))
	}
	slices.SortFunc(out, func(a, b *storage.Project) int { return newestFirst(a.CreatedAt, b.CreatedAt) })
	return out
}

func (r *ProjectRepo) List(ctx context.Context, filter storage.ProjectFilter) ([]*storage.Project, error) {
	if err := r.s.enter("projects.list"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	return page(r.matching(filter), filter.Page), nil
}

func (r *ProjectRepo) Count(ctx context.Context, filter storage.ProjectFilter) (int, error) {
	if err := r.s.enter("projects.count"); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *ProjectRepo) Get(ctx context.Context, id uuid.UUID) (*storage.Project, error) {
	if err := r.s.enter("projects.get"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	p, ok := r.s.projects[id]
	if !ok {
		return nil, notFound("get project")
	}
	return clone(p), nil
}

func (r *ProjectRepo) Create(ctx context.Context, p *storage.Project) error {
	if err := r.s.enter("projects.create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if p.Status == "" {
		p.Status = storage.DefaultProjectStatus
	}
	if p.Priority == "" {
		p.Priority = storage.DefaultPriority
	}
	p.ID = uuid.New()
	p.CreatedAt = r.s.tick()
	p.UpdatedAt = p.CreatedAt

	stored := clone(p)
	stored.Step2Data = cloneJSON(p.Step2Data)
	r.s.projects[p.ID] = stored
	return nil
}

func (r *ProjectRepo) Update(ctx context.Context, id uuid.UUID, patch storage.ProjectPatch) (*storage.Project, error) {
	if err := r.s.enter("projects.update"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	p, ok := r.s.projects[id]
	if !ok {
		return nil, notFound("update project")
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.ClientID != nil {
		p.ClientID = patch.ClientID
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Priority != nil {
		p.Priority = *patch.Priority
	}
	if patch.Budget != nil {
		p.Budget = patch.Budget
	}
	if patch.StartDate != nil {
		p.StartDate = patch.StartDate
	}
	if patch.EndDate != nil {
		p.EndDate = patch.EndDate
	}
	p.UpdatedAt = r.s.tick()
	return clone(p), nil
}

// Delete removes a project with its tasks, members, comments and attachments
func (r *ProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter("projects.delete"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.projects[id]; !ok {
		return notFound("delete project")
	}
	delete(r.s.projects, id)

	for tid, t := range r.s.tasks {
		if t.ProjectID == id {
			delete(r.s.tasks, tid)
		}
	}
	for cid, c := range r.s.comments {
		if c.ProjectID == id {
			delete(r.s.comments, cid)
		}
	}
	for aid, a := range r.s.attachments {
		if a.ProjectID == id {
			delete(r.s.attachments, aid)
		}
	}
	r.s.members = slices.DeleteFunc(r.s.members, func(m *storage.ProjectMember) bool {
		return m.ProjectID == id
	})
	for _, sub := range r.s.submissions {
		if sub.ProjectID != nil && *sub.ProjectID == id {
			sub.ProjectID = nil
		}
	}
	return nil
}

func (r *ProjectRepo) Step2Data(ctx context.Context, id uuid.UUID) (storage.JSONObject, error) {
	if err := r.s.enter("projects.step2_data"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	p, ok := r.s.projects[id]
	if !ok {
		return nil, notFound("read project step2 data")
	}
	return cloneJSON(p.Step2Data), nil
}

func (r *ProjectRepo) SetStep2Data(ctx context.Context, id uuid.UUID, data storage.JSONObject) error {
	if err := r.s.enter("projects.set_step2_data"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	p, ok := r.s.projects[id]
	if !ok {
		return notFound("write project step2 data")
	}
	p.Step2Data = cloneJSON(data)
	p.UpdatedAt = r.s.tick()
	return nil
}

// CorruptStep2Data replaces a stored document behind the repository's back,
// the way a jsonb column default or trigger could
func (s *Store) CorruptStep2Data(id uuid.UUID, data storage.JSONObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		p.Step2Data = data
	}
}

func (r *ProjectRepo) ListMembers(ctx context.Context, projectID uuid.UUID) ([]*storage.ProjectMember, error) {
	if err := r.s.enter("projects.list_members"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	out := []*storage.ProjectMember{}
	for _, m := range r.s.members {
		if m.ProjectID == projectID {
			out = append(out, clone(m))
		}
	}
	return out, nil
}

// AddMember keeps an existing membership's role
func (r *ProjectRepo) AddMember(ctx context.Context, m *storage.ProjectMember) error {
	if err := r.s.enter("projects.add_member"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.projects[m.ProjectID]; !ok {
		return referenceMissing("add project member")
	}
	if m.Role == "" {
		m.Role = "member"
	}
	for _, existing := range r.s.members {
		if existing.ProjectID == m.ProjectID && existing.UserID == m.UserID {
			m.Role = existing.Role
			m.AddedAt = existing.AddedAt
			return nil
		}
	}
	m.AddedAt = r.s.tick()
	r.s.members = append(r.s.members, clone(m))
	return nil
}

func (r *ProjectRepo) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error {
	if err := r.s.enter("projects.remove_member"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	before := len(r.s.members)
	r.s.members = slices.DeleteFunc(r.s.members, func(m *storage.ProjectMember) bool {
		return m.ProjectID == projectID && m.UserID == userID
	})
	if len(r.s.members) == before {
		return notFound("remove project member")
	}
	return nil
}

// TaskRepo implements storage.TaskStore
type TaskRepo struct{ s *Store }

var _ storage.TaskStore = (*TaskRepo)(nil)

func (r *TaskRepo) matching(filter storage.TaskFilter) []*storage.Task {
	out := []*storage.Task{}
	for _, t := range r.s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.ProjectID != nil && t.ProjectID != *filter.ProjectID {
			continue
		}
		if filter.AssigneeID != nil && (t.AssigneeID == nil || *t.AssigneeID != *filter.AssigneeID) {
			continue
		}
		if filter.VisibleTo != nil {
			assigned := t.AssigneeID != nil && *t.AssigneeID == *filter.VisibleTo
			if !assigned && !r.s.isMember(t.ProjectID, *filter.VisibleTo) {
				continue
			}
		}
		if filter.ClientID != nil {
			p, ok := r.s.projects[t.ProjectID]
			if !ok || p.ClientID == nil || *p.ClientID != *filter.ClientID {
				continue
			}
		}
		out = append(out, clone(t))
	}

	// due date ascending with undated last, then newest first
	slices.SortFunc(out, func(a, b *storage.Task) int {
		switch {
		case a.DueDate != nil && b.DueDate != nil:
			if c := a.DueDate.Compare(b.DueDate.Time); c != 0 {
				return c
			}
		case a.DueDate != nil:
			return -1
		case b.DueDate != nil:
			return 1
		}
		return newestFirst(a.CreatedAt, b.CreatedAt)
	})
	return out
}

func (r *TaskRepo) List(ctx context.Context, filter storage.TaskFilter) ([]*storage.Task, error) {
	if err := r.s.enter("tasks.list"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	return page(r.matching(filter), filter.Page), nil
}

func (r *TaskRepo) Count(ctx context.Context, filter storage.TaskFilter) (int, error) {
	if err := r.s.enter("tasks.count"); err != nil {
		return 0, err
	}
	defer r.s.mu.Unlock()
	return len(r.matching(filter)), nil
}

func (r *TaskRepo) Get(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	if err := r.s.enter("tasks.get"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return nil, notFound("get task")
	}
	return clone(t), nil
}

func (r *TaskRepo) Create(ctx context.Context, t *storage.Task) error {
	if err := r.s.enter("tasks.create"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.projects[t.ProjectID]; !ok {
		return referenceMissing("create task")
	}
	if t.Status == "" {
		t.Status = "todo"
	}
	if t.Priority == "" {
		t.Priority = storage.DefaultPriority
	}
	t.ID = uuid.New()
	t.CreatedAt = r.s.tick()
	t.UpdatedAt = t.CreatedAt
	r.s.tasks[t.ID] = clone(t)
	return nil
}

func (r *TaskRepo) Update(ctx context.Context, id uuid.UUID, patch storage.TaskPatch) (*storage.Task, error) {
	if err := r.s.enter("tasks.update"); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return nil, notFound("update task")
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.AssigneeID != nil {
		t.AssigneeID = patch.AssigneeID
	}
	if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
	t.UpdatedAt = r.s.tick()
	return clone(t), nil
}

func (r *TaskRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter("tasks.delete"); err != nil {
		return err
	}
	defer r.s.mu.Unlock()

	if _, ok := r.s.tasks[id]; !ok {
		return notFound("delete task")
	}
	delete(r.s.tasks, id)
	for cid, c := range r.s.comments {
		if c.TaskID != nil && *c.TaskID == id {
			delete(r.s.comments, cid)
		}
	}
	for _, a := range r.s.attachments {
		if a.TaskID != nil && *a.TaskID == id {
			a.TaskID = nil
		}
	}
	return nil
}
