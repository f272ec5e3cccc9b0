package api

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// CommentHandlers serves project and task comments
type CommentHandlers struct {
	comments  storage.CommentStore
	tasks     storage.TaskStore
	ownership *rbac.Ownership
}

// NewCommentHandlers creates comment handlers
func NewCommentHandlers(comments storage.CommentStore, tasks storage.TaskStore, ownership *rbac.Ownership) *CommentHandlers {
	return &CommentHandlers{comments: comments, tasks: tasks, ownership: ownership}
}

// RegisterRoutes registers comment routes
func (h *CommentHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	read := rbac.Requirement{Permissions: []auth.Permission{auth.PermCommentsRead}}
	write := rbac.Requirement{Permissions: []auth.Permission{auth.PermCommentsWrite}}

	router.Handle("/api/projects/{id}/comments", gate.Wrap(read, h.listForProject)).Methods("GET")
	router.Handle("/api/projects/{id}/comments", gate.Wrap(write, h.create)).Methods("POST")
	router.Handle("/api/tasks/{id}/comments", gate.Wrap(read, h.listForTask)).Methods("GET")
	router.Handle("/api/comments/{id}", gate.Wrap(write, h.delete)).Methods("DELETE")
}

func (h *CommentHandlers) listForProject(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	if err := h.ownership.CanAccessProject(ctx, call.User, id); err != nil {
		return httputil.Fail(err)
	}

	comments, err := h.comments.ListForProject(ctx, id, page)
	if err != nil {
		return httputil.Fail(apierr.Upstream("comments.list", err))
	}
	return httputil.OK(comments)
}

func (h *CommentHandlers) listForTask(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	if err := h.ownership.CanAccessTask(ctx, call.User, id); err != nil {
		return httputil.Fail(err)
	}

	comments, err := h.comments.ListForTask(ctx, id, page)
	if err != nil {
		return httputil.Fail(apierr.Upstream("comments.list", err))
	}
	return httputil.OK(comments)
}

type createCommentRequest struct {
	Body   string     `json:"body"`
	TaskID *uuid.UUID `json:"task_id"`
}

func (h *CommentHandlers) create(ctx context.Context, call *rbac.Call) httputil.Result {
	projectID, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	author, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}
	var req createCommentRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}
	fields := httputil.FieldErrors{}
	fields.Require("body", req.Body)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	if err := h.ownership.CanAccessProject(ctx, call.User, projectID); err != nil {
		return httputil.Fail(err)
	}
	if req.TaskID != nil {
		task, err := h.tasks.Get(ctx, *req.TaskID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && task.ProjectID != projectID) {
			return httputil.Fail(apierr.InvalidFields(map[string]string{
				"task_id": "task does not belong to this project",
			}))
		}
		if err != nil {
			return httputil.Fail(apierr.Upstream("tasks.get", err))
		}
	}

	comment := &storage.Comment{
		ProjectID: projectID,
		TaskID:    req.TaskID,
		AuthorID:  author,
		Body:      strings.TrimSpace(req.Body),
	}
	if err := h.comments.Create(ctx, comment); err != nil {
		return httputil.Fail(storeErr("comments.create", "Comment", err))
	}
	return httputil.Created(comment)
}

func (h *CommentHandlers) delete(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	caller, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}

	comment, err := h.comments.Get(ctx, id)
	if err != nil {
		return httputil.Fail(narrowedStoreErr(call.User, "comments.get", "Comment", err))
	}
	if comment.AuthorID != caller && !call.User.InRoles(auth.RoleAdmin, auth.RoleManager) {
		return httputil.Fail(apierr.Forbidden("Only the author can delete this comment"))
	}

	if err := h.comments.Delete(ctx, id); err != nil {
		return httputil.Fail(storeErr("comments.delete", "Comment", err))
	}
	return httputil.NoContent()
}
