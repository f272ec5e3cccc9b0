package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
	"github.com/platinummonkey/opsdesk/pkg/storage/objectstore"
)

// DefaultMaxUploadBytes caps an attachment upload when no limit is configured
const DefaultMaxUploadBytes = 25 << 20

var errObjectsDisabled = errors.New("object storage is not configured")

// AttachmentHandlers serves project attachments. Metadata lives in the
// attachment store and the bytes in object storage.
type AttachmentHandlers struct {
	attachments storage.AttachmentStore
	tasks       storage.TaskStore
	objects     objectstore.Store
	ownership   *rbac.Ownership
	recorder    *activity.Recorder
	maxBytes    int64
}

// NewAttachmentHandlers creates attachment handlers. objects may be nil, in
// which case uploads and downloads fail.
func NewAttachmentHandlers(attachments storage.AttachmentStore, tasks storage.TaskStore, objects objectstore.Store,
	ownership *rbac.Ownership, recorder *activity.Recorder, maxBytes int64) *AttachmentHandlers {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &AttachmentHandlers{
		attachments: attachments,
		tasks:       tasks,
		objects:     objects,
		ownership:   ownership,
		recorder:    recorder,
		maxBytes:    maxBytes,
	}
}

// RegisterRoutes registers the attachment list, upload and delete routes
func (h *AttachmentHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	write := rbac.Requirement{Permissions: []auth.Permission{auth.PermAttachmentsWrite}}

	router.Handle("/api/projects/{id}/attachments", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermAttachmentsRead},
	}, h.list)).Methods("GET")
	router.Handle("/api/projects/{id}/attachments", gate.Wrap(write, h.upload)).Methods("POST")
	router.Handle("/api/attachments/{id}", gate.Wrap(write, h.delete)).Methods("DELETE")
}

// RegisterDownloadRoutes registers the download route. It must not sit behind
// the response cache.
func (h *AttachmentHandlers) RegisterDownloadRoutes(router *mux.Router, gate *rbac.Gate) {
	router.Handle("/api/attachments/{id}/download", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermAttachmentsRead},
	}, h.download)).Methods("GET")
}

func (h *AttachmentHandlers) list(ctx context.Context, call *rbac.Call) httputil.Result {
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

	attachments, err := h.attachments.List(ctx, id, page)
	if err != nil {
		return httputil.Fail(apierr.Upstream("attachments.list", err))
	}
	return httputil.OK(attachments)
}

func (h *AttachmentHandlers) upload(ctx context.Context, call *rbac.Call) httputil.Result {
	projectID, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	uploader, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}
	if err := h.ownership.CanAccessProject(ctx, call.User, projectID); err != nil {
		return httputil.Fail(err)
	}
	if h.objects == nil {
		return httputil.Fail(apierr.Upstream("attachments.upload", errObjectsDisabled))
	}

	r := call.Request
	r.Body = http.MaxBytesReader(nil, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return httputil.Fail(apierr.Validationf("file exceeds %d bytes", h.maxBytes))
		}
		return httputil.Fail(apierr.Validation("request must be multipart/form-data"))
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		return httputil.Fail(apierr.InvalidFields(map[string]string{"file": "file is required"}))
	}
	defer file.Close()

	var taskID *uuid.UUID
	if raw := strings.TrimSpace(r.FormValue("task_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(apierr.InvalidFields(map[string]string{"task_id": "must be a valid UUID"}))
		}
		task, err := h.tasks.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && task.ProjectID != projectID) {
			return httputil.Fail(apierr.InvalidFields(map[string]string{
				"task_id": "task does not belong to this project",
			}))
		}
		if err != nil {
			return httputil.Fail(apierr.Upstream("tasks.get", err))
		}
		taskID = &id
	}

	fileName := objectstore.SanitizeFileName(header.Filename)
	contentType := header.Header.Get("Content-Type")
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		contentType = "application/octet-stream"
	}

	key := objectstore.Key(projectID, fileName)
	size, err := h.objects.Put(ctx, key, file, contentType)
	if err != nil {
		return httputil.Fail(apierr.Upstream("attachments.put_object", err))
	}

	attachment := &storage.Attachment{
		ProjectID:   projectID,
		TaskID:      taskID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   size,
		StorageKey:  key,
		UploadedBy:  uploader,
	}
	if err := h.attachments.Create(ctx, attachment); err != nil {
		// the object has no row pointing at it
		h.recorder.Detach(ctx, activity.KindCompensation, func(ctx context.Context) error {
			return h.objects.Delete(ctx, key)
		})
		return httputil.Fail(storeErr("attachments.create", "Attachment", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionAttachmentAdded, "attachment", attachment.ID.String(),
		storage.JSONObject{"project_id": projectID.String(), "file_name": fileName})
	return httputil.Created(attachment)
}

func (h *AttachmentHandlers) lookup(ctx context.Context, call *rbac.Call) (*storage.Attachment, error) {
	id, err := pathID(call, "id")
	if err != nil {
		return nil, err
	}
	attachment, err := h.attachments.Get(ctx, id)
	if err != nil {
		return nil, narrowedStoreErr(call.User, "attachments.get", "Attachment", err)
	}
	if err := h.ownership.CanAccessProject(ctx, call.User, attachment.ProjectID); err != nil {
		return nil, err
	}
	return attachment, nil
}

func (h *AttachmentHandlers) download(ctx context.Context, call *rbac.Call) httputil.Result {
	attachment, err := h.lookup(ctx, call)
	if err != nil {
		return httputil.Fail(err)
	}
	if h.objects == nil {
		return httputil.Fail(apierr.Upstream("attachments.download", errObjectsDisabled))
	}

	obj, err := h.objects.Get(ctx, attachment.StorageKey)
	if errors.Is(err, objectstore.ErrNotFound) {
		return httputil.Fail(apierr.NotFound("Attachment"))
	}
	if err != nil {
		return httputil.Fail(apierr.Upstream("attachments.get_object", err))
	}

	return httputil.Stream(func(w http.ResponseWriter) error {
		defer obj.Body.Close()

		contentType := obj.ContentType
		if contentType == "" {
			contentType = attachment.ContentType
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": attachment.FileName,
		}))
		w.Header().Set("Cache-Control", "no-store")
		if obj.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
		}
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, obj.Body); err != nil {
			return fmt.Errorf("failed to stream attachment %s: %w", attachment.ID, err)
		}
		return nil
	})
}

func (h *AttachmentHandlers) delete(ctx context.Context, call *rbac.Call) httputil.Result {
	attachment, err := h.lookup(ctx, call)
	if err != nil {
		return httputil.Fail(err)
	}
	caller, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}
	if attachment.UploadedBy != caller && !call.User.InRoles(auth.RoleAdmin, auth.RoleManager) {
		return httputil.Fail(apierr.Forbidden("Only the uploader can delete this attachment"))
	}

	if err := h.attachments.Delete(ctx, attachment.ID); err != nil {
		return httputil.Fail(storeErr("attachments.delete", "Attachment", err))
	}
	if h.objects != nil {
		key := attachment.StorageKey
		h.recorder.Detach(ctx, activity.KindObjectCleanup, func(ctx context.Context) error {
			return h.objects.Delete(ctx, key)
		})
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionAttachmentDeleted, "attachment", attachment.ID.String(),
		storage.JSONObject{"project_id": attachment.ProjectID.String()})
	return httputil.NoContent()
}
