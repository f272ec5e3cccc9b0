package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

func seedProject(t *testing.T, h *harness, name string, client *uuid.UUID, members ...uuid.UUID) *storage.Project {
	t.Helper()
	ctx := context.Background()
	p := &storage.Project{Name: name, ClientID: client}
	require.NoError(t, h.store.Projects.Create(ctx, p))
	for _, m := range members {
		require.NoError(t, h.store.Projects.AddMember(ctx, &storage.ProjectMember{ProjectID: p.ID, UserID: m, Role: "member"}))
	}
	return p
}

func seedTask(t *testing.T, h *harness, projectID uuid.UUID, assignee *uuid.UUID) *storage.Task {
	t.Helper()
	task := &storage.Task{ProjectID: projectID, Title: "Survey", AssigneeID: assignee}
	require.NoError(t, h.store.Tasks.Create(context.Background(), task))
	return task
}

func TestProjects_CreateAndGet(t *testing.T) {
	h := newHarness(t)
	manager, managerID := h.token(auth.RoleManager)

	rec := h.do(http.MethodPost, "/api/projects", manager, map[string]interface{}{
		"name":       "  Harbour fit-out ",
		"priority":   "high",
		"budget":     1200.5,
		"start_date": "2024-03-01",
		"end_date":   "2024-06-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p storage.Project
	data(t, rec, &p)
	assert.Equal(t, "Harbour fit-out", p.Name)
	assert.Equal(t, storage.DefaultProjectStatus, p.Status)
	assert.Equal(t, "high", p.Priority)
	assert.Equal(t, managerID, *p.CreatedBy)

	var got storage.Project
	data(t, h.do(http.MethodGet, "/api/projects/"+p.ID.String(), manager, nil), &got)
	assert.Equal(t, p.ID, got.ID)
}

func TestProjects_CreateValidation(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.token(auth.RoleAdmin)

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{"blank name", map[string]interface{}{"name": " "}, "name"},
		{"unknown status", map[string]interface{}{"name": "a", "status": "paused"}, "status"},
		{"unknown priority", map[string]interface{}{"name": "a", "priority": "asap"}, "priority"},
		{"negative budget", map[string]interface{}{"name": "a", "budget": -1}, "budget"},
		{"end before start", map[string]interface{}{"name": "a", "start_date": "2024-05-01", "end_date": "2024-04-01"}, "end_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/projects", admin, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorOf(t, rec).Details, tt.field)
		})
	}
}

func TestProjects_EmployeeNarrowing(t *testing.T) {
	h := newHarness(t)
	employee, employeeID := h.token(auth.RoleEmployee)
	mine := seedProject(t, h, "Mine", nil, employeeID)
	other := seedProject(t, h, "Other", nil)

	var list []storage.Project
	data(t, h.do(http.MethodGet, "/api/projects", employee, nil), &list)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/projects/"+mine.ID.String(), employee, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/projects/"+other.ID.String(), employee, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/projects/"+other.ID.String()+"/members", employee, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/projects/"+uuid.NewString(), employee, nil).Code,
		"a missing project is not distinguishable from a foreign one")

	// membership never grants write without the permission
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPatch, "/api/projects/"+mine.ID.String(), employee,
		map[string]string{"name": "x"}).Code)
}

func TestProjects_ClientNarrowing(t *testing.T) {
	h := newHarness(t)
	client, clientID := h.token(auth.RoleClient)
	owned := seedProject(t, h, "Owned", &clientID)
	foreignClient := uuid.New()
	foreign := seedProject(t, h, "Foreign", &foreignClient)

	var list []storage.Project
	data(t, h.do(http.MethodGet, "/api/projects", client, nil), &list)
	require.Len(t, list, 1)
	assert.Equal(t, owned.ID, list[0].ID)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/projects/"+owned.ID.String(), client, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/projects/"+foreign.ID.String(), client, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/projects", client, map[string]string{"name": "x"}).Code)
}

func TestProjects_AdminMissingIsNotFound(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.token(auth.RoleAdmin)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/projects/"+uuid.NewString(), admin, nil).Code)
}

func TestProjects_Update(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.token(auth.RoleAdmin)
	p := seedProject(t, h, "Site", nil)
	path := "/api/projects/" + p.ID.String()

	rec := h.do(http.MethodPatch, path, admin, map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated storage.Project
	data(t, rec, &updated)
	assert.Equal(t, "in_progress", updated.Status)
	assert.Equal(t, "Site", updated.Name)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, path, admin, map[string]string{"status": ""}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, path, admin, map[string]string{"name": "  "}).Code)
}

func TestProjects_DeleteCleansUpObjects(t *testing.T) {
	h := newHarness(t)
	admin, adminID := h.token(auth.RoleAdmin)
	manager, _ := h.token(auth.RoleManager)
	p := seedProject(t, h, "Site", nil)

	ctx := context.Background()
	key := "projects/" + p.ID.String() + "/plan.pdf"
	_, err := h.objects.Put(ctx, key, strings.NewReader("pdf"), "application/pdf")
	require.NoError(t, err)
	require.NoError(t, h.store.Attachments.Create(ctx, &storage.Attachment{
		ProjectID: p.ID, FileName: "plan.pdf", StorageKey: key, UploadedBy: adminID,
	}))

	path := "/api/projects/" + p.ID.String()
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodDelete, path, manager, nil).Code)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, path, admin, nil).Code)

	select {
	case deleted := <-h.objects.deleted:
		assert.Equal(t, key, deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("attachment object was not cleaned up")
	}
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, path, admin, nil).Code)
}

func TestProjects_Members(t *testing.T) {
	h := newHarness(t)
	manager, _ := h.token(auth.RoleManager)
	p := seedProject(t, h, "Site", nil)
	path := "/api/projects/" + p.ID.String() + "/members"
	user := uuid.New()

	rec := h.do(http.MethodPost, path, manager, map[string]string{"user_id": user.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// adding twice is idempotent
	assert.Equal(t, http.StatusCreated, h.do(http.MethodPost, path, manager, map[string]string{"user_id": user.String()}).Code)

	var members []storage.ProjectMember
	data(t, h.do(http.MethodGet, path, manager, nil), &members)
	require.Len(t, members, 1)
	assert.Equal(t, user, members[0].UserID)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, path, manager, map[string]string{"user_id": user.String(), "role": "boss"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, path, manager, map[string]string{}).Code)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, path+"/"+user.String(), manager, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, path+"/"+user.String(), manager, nil).Code)
}

func TestTasks_EmployeeVisibility(t *testing.T) {
	h := newHarness(t)
	employee, employeeID := h.token(auth.RoleEmployee)
	member := seedProject(t, h, "Member", nil, employeeID)
	outside := seedProject(t, h, "Outside", nil)

	inMember := seedTask(t, h, member.ID, nil)
	assigned := seedTask(t, h, outside.ID, &employeeID)
	hidden := seedTask(t, h, outside.ID, nil)

	var list []storage.Task
	data(t, h.do(http.MethodGet, "/api/tasks", employee, nil), &list)
	ids := []uuid.UUID{}
	for _, task := range list {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{inMember.ID, assigned.ID}, ids)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/tasks/"+assigned.ID.String(), employee, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/tasks/"+hidden.ID.String(), employee, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/projects/"+outside.ID.String()+"/tasks", employee, nil).Code)

	rec := h.do(http.MethodPatch, "/api/tasks/"+assigned.ID.String(), employee, map[string]string{"status": "done"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodDelete, "/api/tasks/"+assigned.ID.String(), employee, nil).Code)
}

func TestTasks_Create(t *testing.T) {
	h := newHarness(t)
	employee, employeeID := h.token(auth.RoleEmployee)
	admin, _ := h.token(auth.RoleAdmin)
	member := seedProject(t, h, "Member", nil, employeeID)
	outside := seedProject(t, h, "Outside", nil)

	rec := h.do(http.MethodPost, "/api/tasks", employee, map[string]interface{}{
		"project_id": member.ID, "title": "Pour slab", "due_date": "2024-04-02",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task storage.Task
	data(t, rec, &task)
	assert.Equal(t, "todo", task.Status)
	assert.Equal(t, employeeID, *task.CreatedBy)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/tasks", employee, map[string]interface{}{
		"project_id": outside.ID, "title": "Sneak in",
	}).Code)

	rec = h.do(http.MethodPost, "/api/tasks", admin, map[string]interface{}{"project_id": uuid.New(), "title": "Orphan"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "referenced record does not exist", errorOf(t, rec).Error)

	rec = h.do(http.MethodPost, "/api/tasks", admin, map[string]interface{}{"title": "No project"})
	assert.Contains(t, errorOf(t, rec).Details, "project_id")
}

func TestTasks_ListFilters(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.token(auth.RoleAdmin)
	p := seedProject(t, h, "Site", nil)
	seedTask(t, h, p.ID, nil)
	other := seedProject(t, h, "Other", nil)
	seedTask(t, h, other.ID, nil)

	var list []storage.Task
	data(t, h.do(http.MethodGet, "/api/tasks?project_id="+p.ID.String(), admin, nil), &list)
	assert.Len(t, list, 1)

	data(t, h.do(http.MethodGet, "/api/projects/"+other.ID.String()+"/tasks", admin, nil), &list)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/tasks?project_id=nope", admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/tasks?status=blocked", admin, nil).Code)
}

func TestActivity_RecordsProjectChanges(t *testing.T) {
	h := newHarness(t)
	manager, managerID := h.token(auth.RoleManager)
	employee, _ := h.token(auth.RoleEmployee)

	rec := h.do(http.MethodPost, "/api/projects", manager, map[string]string{"name": "Depot"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var p storage.Project
	data(t, rec, &p)

	var entries []storage.ActivityEntry
	data(t, h.do(http.MethodGet, "/api/activity?entity_type=project&entity_id="+p.ID.String(), manager, nil), &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "project.created", entries[0].Action)
	assert.Equal(t, managerID, *entries[0].ActorID)

	data(t, h.do(http.MethodGet, "/api/activity?actor_id="+uuid.NewString(), manager, nil), &entries)
	assert.Empty(t, entries)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/activity?actor_id=x", manager, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/activity", employee, nil).Code)
}
