package api

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// TaskHandlers serves tasks
type TaskHandlers struct {
	tasks     storage.TaskStore
	ownership *rbac.Ownership
	recorder  *activity.Recorder
}

// NewTaskHandlers creates task handlers
func NewTaskHandlers(tasks storage.TaskStore, ownership *rbac.Ownership, recorder *activity.Recorder) *TaskHandlers {
	return &TaskHandlers{tasks: tasks, ownership: ownership, recorder: recorder}
}

// RegisterRoutes registers task routes
func (h *TaskHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	read := rbac.Requirement{Permissions: []auth.Permission{auth.PermTasksRead}}
	write := rbac.Requirement{Permissions: []auth.Permission{auth.PermTasksWrite}}

	router.Handle("/api/tasks", gate.Wrap(read, h.list)).Methods("GET")
	router.Handle("/api/tasks/{id}", gate.Wrap(read, h.get)).Methods("GET")
	router.Handle("/api/tasks", gate.Wrap(write, h.create)).Methods("POST")
	router.Handle("/api/tasks/{id}", gate.Wrap(write, h.update)).Methods("PATCH")
	router.Handle("/api/tasks/{id}", gate.Wrap(rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin, auth.RoleManager},
		Permissions: []auth.Permission{auth.PermTasksDelete},
	}, h.delete)).Methods("DELETE")
}

func (h *TaskHandlers) list(ctx context.Context, call *rbac.Call) httputil.Result {
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	projectID, err := httputil.ParseQueryUUID(call.Request, "project_id")
	if err != nil {
		return httputil.Fail(err)
	}
	assigneeID, err := httputil.ParseQueryUUID(call.Request, "assignee_id")
	if err != nil {
		return httputil.Fail(err)
	}
	status := httputil.ParseQueryString(call.Request, "status", "")
	fields := httputil.FieldErrors{}
	fields.OneOf("status", status, storage.TaskStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	filter, err := h.ownership.TaskFilter(call.User, storage.TaskFilter{
		ProjectID:  projectID,
		AssigneeID: assigneeID,
		Status:     status,
		Page:       page,
	})
	if err != nil {
		return httputil.Fail(err)
	}
	tasks, err := h.tasks.List(ctx, filter)
	if err != nil {
		return httputil.Fail(apierr.Upstream("tasks.list", err))
	}
	return httputil.OK(tasks)
}

// accessible parses the task id and applies ownership narrowing
func (h *TaskHandlers) accessible(ctx context.Context, call *rbac.Call) (uuid.UUID, error) {
	id, err := pathID(call, "id")
	if err != nil {
		return uuid.Nil, err
	}
	if err := h.ownership.CanAccessTask(ctx, call.User, id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (h *TaskHandlers) get(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := h.accessible(ctx, call)
	if err != nil {
		return httputil.Fail(err)
	}
	task, err := h.tasks.Get(ctx, id)
	if err != nil {
		return httputil.Fail(storeErr("tasks.get", "Task", err))
	}
	return httputil.OK(task)
}

type createTaskRequest struct {
	ProjectID   *uuid.UUID    `json:"project_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	Priority    string        `json:"priority"`
	AssigneeID  *uuid.UUID    `json:"assignee_id"`
	DueDate     *storage.Date `json:"due_date"`
}

func (req *createTaskRequest) validate() error {
	req.Title = strings.TrimSpace(req.Title)

	fields := httputil.FieldErrors{}
	if req.ProjectID == nil || *req.ProjectID == uuid.Nil {
		fields.Add("project_id", "project_id is required")
	}
	fields.Require("title", req.Title)
	fields.OneOf("status", req.Status, storage.TaskStatuses...)
	fields.OneOf("priority", req.Priority, storage.Priorities...)
	return fields.Err()
}

func (h *TaskHandlers) create(ctx context.Context, call *rbac.Call) httputil.Result {
	var req createTaskRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}
	if err := req.validate(); err != nil {
		return httputil.Fail(err)
	}
	if err := h.ownership.CanAccessProject(ctx, call.User, *req.ProjectID); err != nil {
		return httputil.Fail(err)
	}
	creator, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}

	task := &storage.Task{
		ProjectID:   *req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
		DueDate:     req.DueDate,
		CreatedBy:   &creator,
	}
	if err := h.tasks.Create(ctx, task); err != nil {
		return httputil.Fail(storeErr("tasks.create", "Task", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionTaskCreated, "task", task.ID.String(),
		storage.JSONObject{"project_id": task.ProjectID.String(), "title": task.Title})
	return httputil.Created(task)
}

func validateTaskPatch(patch *storage.TaskPatch) error {
	patch.Title = trimmed(patch.Title)

	fields := httputil.FieldErrors{}
	requireIfSet(fields, "title", patch.Title)
	oneOfIfSet(fields, "status", patch.Status, storage.TaskStatuses)
	oneOfIfSet(fields, "priority", patch.Priority, storage.Priorities)
	return fields.Err()
}

func (h *TaskHandlers) update(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := h.accessible(ctx, call)
	if err != nil {
		return httputil.Fail(err)
	}
	var patch storage.TaskPatch
	if err := httputil.ParseJSON(call.Request, &patch); err != nil {
		return httputil.Fail(err)
	}
	if err := validateTaskPatch(&patch); err != nil {
		return httputil.Fail(err)
	}

	task, err := h.tasks.Update(ctx, id, patch)
	if err != nil {
		return httputil.Fail(storeErr("tasks.update", "Task", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionTaskUpdated, "task", id.String(), nil)
	return httputil.OK(task)
}

func (h *TaskHandlers) delete(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	if err := h.tasks.Delete(ctx, id); err != nil {
		return httputil.Fail(storeErr("tasks.delete", "Task", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionTaskDeleted, "task", id.String(), nil)
	return httputil.NoContent()
}
