package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/async"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
	"github.com/platinummonkey/opsdesk/pkg/storage/objectstore"
)

const objectCleanupWorkers = 4

// ProjectHandlers serves projects, their members and their task lists
type ProjectHandlers struct {
	projects    storage.ProjectStore
	tasks       storage.TaskStore
	attachments storage.AttachmentStore
	objects     objectstore.Store
	ownership   *rbac.Ownership
	recorder    *activity.Recorder
}

// NewProjectHandlers creates project handlers. objects may be nil.
func NewProjectHandlers(projects storage.ProjectStore, tasks storage.TaskStore, attachments storage.AttachmentStore,
	objects objectstore.Store, ownership *rbac.Ownership, recorder *activity.Recorder) *ProjectHandlers {
	return &ProjectHandlers{
		projects:    projects,
		tasks:       tasks,
		attachments: attachments,
		objects:     objects,
		ownership:   ownership,
		recorder:    recorder,
	}
}

// RegisterRoutes registers project routes
func (h *ProjectHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	read := rbac.Requirement{Permissions: []auth.Permission{auth.PermProjectsRead}}
	manage := rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin, auth.RoleManager},
		Permissions: []auth.Permission{auth.PermProjectsWrite},
	}

	router.Handle("/api/projects", gate.Wrap(read, h.list)).Methods("GET")
	router.Handle("/api/projects/{id}", gate.Wrap(read, h.get)).Methods("GET")
	router.Handle("/api/projects", gate.Wrap(manage, h.create)).Methods("POST")
	router.Handle("/api/projects/{id}", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermProjectsWrite},
	}, h.update)).Methods("PATCH")
	router.Handle("/api/projects/{id}", gate.Wrap(rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin},
		Permissions: []auth.Permission{auth.PermProjectsDelete},
	}, h.delete)).Methods("DELETE")

	router.Handle("/api/projects/{id}/members", gate.Wrap(read, h.listMembers)).Methods("GET")
	router.Handle("/api/projects/{id}/members", gate.Wrap(manage, h.addMember)).Methods("POST")
	router.Handle("/api/projects/{id}/members/{user_id}", gate.Wrap(manage, h.removeMember)).Methods("DELETE")

	router.Handle("/api/projects/{id}/tasks", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermTasksRead},
	}, h.listTasks)).Methods("GET")
}

func (h *ProjectHandlers) list(ctx context.Context, call *rbac.Call) httputil.Result {
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	status := httputil.ParseQueryString(call.Request, "status", "")
	fields := httputil.FieldErrors{}
	fields.OneOf("status", status, storage.ProjectStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	filter, err := h.ownership.ProjectFilter(call.User, storage.ProjectFilter{Status: status, Page: page})
	if err != nil {
		return httputil.Fail(err)
	}
	projects, err := h.projects.List(ctx, filter)
	if err != nil {
		return httputil.Fail(apierr.Upstream("projects.list", err))
	}
	return httputil.OK(projects)
}

// accessible parses the project id and applies ownership narrowing
func (h *ProjectHandlers) accessible(ctx context.Context, call *rbac.Call) (uuid.UUID, error) {
	id, err := pathID(call, "id")
	if err != nil {
		return uuid.Nil, err
	}
	if err := h.ownership.CanAccessProject(ctx, call.User, id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (h *ProjectHandlers) get(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := h.accessible(ctx, call)
	if err != nil {
		return httputil.Fail(err)
	}
	project, err := h.projects.Get(ctx, id)
	if err != nil {
		return httputil.Fail(storeErr("projects.get", "Project", err))
	}
	return httputil.OK(project)
}

type createProjectRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	ClientID    *uuid.UUID         `json:"client_id"`
	Status      string             `json:"status"`
	Priority    string             `json:"priority"`
	Budget      *float64           `json:"budget"`
	StartDate   *storage.Date      `json:"start_date"`
	EndDate     *storage.Date      `json:"end_date"`
	Step2Data   storage.JSONObject `json:"step2_data"`
}

func (req *createProjectRequest) validate() error {
	req.Name = strings.TrimSpace(req.Name)

	fields := httputil.FieldErrors{}
	fields.Require("name", req.Name)
	fields.OneOf("status", req.Status, storage.ProjectStatuses...)
	fields.OneOf("priority", req.Priority, storage.Priorities...)
	if req.Budget != nil && *req.Budget < 0 {
		fields.Add("budget", "must not be negative")
	}
	dateOrder(fields, req.StartDate, req.EndDate)
	return fields.Err()
}

func (h *ProjectHandlers) create(ctx context.Context, call *rbac.Call) httputil.Result {
	var req createProjectRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}
	if err := req.validate(); err != nil {
		return httputil.Fail(err)
	}
	creator, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}

	project := &storage.Project{
		Name:        req.Name,
		Description: req.Description,
		ClientID:    req.ClientID,
		Status:      req.Status,
		Priority:    req.Priority,
		Budget:      req.Budget,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Step2Data:   req.Step2Data,
		CreatedBy:   &creator,
	}
	if err := h.projects.Create(ctx, project); err != nil {
		return httputil.Fail(storeErr("projects.create", "Project", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionProjectCreated, "project", project.ID.String(),
		storage.JSONObject{"name": project.Name})
	return httputil.Created(project)
}

func validateProjectPatch(patch *storage.ProjectPatch) error {
	patch.Name = trimmed(patch.Name)

	fields := httputil.FieldErrors{}
	requireIfSet(fields, "name", patch.Name)
	oneOfIfSet(fields, "status", patch.Status, storage.ProjectStatuses)
	oneOfIfSet(fields, "priority", patch.Priority, storage.Priorities)
	if patch.Budget != nil && *patch.Budget < 0 {
		fields.Add("budget", "must not be negative")
	}
	dateOrder(fields, patch.StartDate, patch.EndDate)
	return fields.Err()
}

func (h *ProjectHandlers) update(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := h.accessible(ctx, call)
	if err != nil {
		return httputil.Fail(err)
	}
	var patch storage.ProjectPatch
	if err := httputil.ParseJSON(call.Request, &patch); err != nil {
		return httputil.Fail(err)
	}
	if err := validateProjectPatch(&patch); err != nil {
		return httputil.Fail(err)
	}

	project, err := h.projects.Update(ctx, id, patch)
	if err != nil {
		return httputil.Fail(storeErr("projects.update", "Project", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionProjectUpdated, "project", id.String(), nil)
	return httputil.OK(project)
}

func (h *ProjectHandlers) delete(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}

	// keys must be read before the rows cascade away
	keys, err := h.attachments.StorageKeys(ctx, id)
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("project_id", id).
			Warn("Failed to list attachment objects; they will be orphaned")
	}

	if err := h.projects.Delete(ctx, id); err != nil {
		return httputil.Fail(storeErr("projects.delete", "Project", err))
	}

	if h.objects != nil && len(keys) > 0 {
		h.recorder.Detach(ctx, activity.KindObjectCleanup, func(ctx context.Context) error {
			return deleteObjects(ctx, h.objects, keys)
		})
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionProjectDeleted, "project", id.String(), nil)
	return httputil.NoContent()
}

func (h *ProjectHandlers) listMembers(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := h.accessible(ctx, call)
	if err != nil {
		return httputil.Fail(err)
	}
	members, err := h.projects.ListMembers(ctx, id)
	if err != nil {
		return httputil.Fail(storeErr("projects.list_members", "Project", err))
	}
	return httputil.OK(members)
}

type addMemberRequest struct {
	UserID *uuid.UUID `json:"user_id"`
	Role   string     `json:"role"`
}

func (h *ProjectHandlers) addMember(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	var req addMemberRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}
	fields := httputil.FieldErrors{}
	if req.UserID == nil || *req.UserID == uuid.Nil {
		fields.Add("user_id", "user_id is required")
	}
	fields.OneOf("role", req.Role, storage.MemberRoles...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	member := &storage.ProjectMember{ProjectID: id, UserID: *req.UserID, Role: req.Role}
	if err := h.projects.AddMember(ctx, member); err != nil {
		return httputil.Fail(storeErr("projects.add_member", "Project", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionMemberAdded, "project", id.String(),
		storage.JSONObject{"user_id": member.UserID.String(), "role": member.Role})
	return httputil.Created(member)
}

func (h *ProjectHandlers) removeMember(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	userID, err := pathID(call, "user_id")
	if err != nil {
		return httputil.Fail(err)
	}
	if err := h.projects.RemoveMember(ctx, id, userID); err != nil {
		return httputil.Fail(storeErr("projects.remove_member", "Project member", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionMemberRemoved, "project", id.String(),
		storage.JSONObject{"user_id": userID.String()})
	return httputil.NoContent()
}

func (h *ProjectHandlers) listTasks(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := h.accessible(ctx, call)
	if err != nil {
		return httputil.Fail(err)
	}
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	tasks, err := h.tasks.List(ctx, storage.TaskFilter{ProjectID: &id, Page: page})
	if err != nil {
		return httputil.Fail(apierr.Upstream("tasks.list", err))
	}
	return httputil.OK(tasks)
}

// deleteObjects removes every key on a small worker pool, continuing past failures
func deleteObjects(ctx context.Context, objects objectstore.Store, keys []string) error {
	errs := async.Batch(ctx, keys, objectCleanupWorkers, activity.KindObjectCleanup, 30*time.Second,
		func(ctx context.Context, key string) error {
			if err := objects.Delete(ctx, key); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			return nil
		})
	for _, err := range errs {
		observability.FromContext(ctx).WithError(err).Warn("Failed to delete object")
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete %d of %d objects", len(errs), len(keys))
	}
	return nil
}
