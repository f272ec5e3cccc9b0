package api

import (
	"context"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/middleware"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// ContactHandlers serves the public contact form and its triage
type ContactHandlers struct {
	contacts storage.ContactStore
	recorder *activity.Recorder
	limiter  *middleware.RateLimitMiddleware
}

// NewContactHandlers creates contact handlers. limiter may be nil.
func NewContactHandlers(contacts storage.ContactStore, recorder *activity.Recorder, limiter *middleware.RateLimitMiddleware) *ContactHandlers {
	return &ContactHandlers{contacts: contacts, recorder: recorder, limiter: limiter}
}

// RegisterRoutes registers contact routes
func (h *ContactHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	router.Handle("/api/contact", limited(h.limiter, rbac.Public(h.submit))).Methods("POST")

	router.Handle("/api/contacts", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermContactsRead},
	}, h.list)).Methods("GET")
	router.Handle("/api/contacts/{id}", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermContactsWrite},
	}, h.update)).Methods("PATCH")
	router.Handle("/api/contacts/{id}", gate.Wrap(rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin},
		Permissions: []auth.Permission{auth.PermContactsWrite},
	}, h.delete)).Methods("DELETE")
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (h *ContactHandlers) submit(ctx context.Context, call *rbac.Call) httputil.Result {
	var req contactRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}

	fields := httputil.FieldErrors{}
	fields.Require("name", req.Name)
	fields.Require("email", req.Email)
	fields.Email("email", strings.TrimSpace(req.Email))
	fields.Require("message", req.Message)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	contact := &storage.ContactSubmission{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Company: strings.TrimSpace(req.Company),
		Phone:   strings.TrimSpace(req.Phone),
		Message: strings.TrimSpace(req.Message),
		Status:  "new",
	}
	if err := h.contacts.Create(ctx, contact); err != nil {
		return httputil.Fail(storeErr("contacts.create", "Contact", err))
	}

	h.recorder.Record(ctx, "", activity.ActionContactCreated, "contact", contact.ID.String(), nil)
	return httputil.Created(contact)
}

func (h *ContactHandlers) list(ctx context.Context, call *rbac.Call) httputil.Result {
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	status := httputil.ParseQueryString(call.Request, "status", "")
	fields := httputil.FieldErrors{}
	fields.OneOf("status", status, storage.ContactStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	contacts, err := h.contacts.List(ctx, storage.ContactFilter{Status: status, Page: page})
	if err != nil {
		return httputil.Fail(apierr.Upstream("contacts.list", err))
	}
	return httputil.OK(contacts)
}

func (h *ContactHandlers) update(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	var req statusRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}
	fields := httputil.FieldErrors{}
	fields.Require("status", req.Status)
	fields.OneOf("status", req.Status, storage.ContactStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	contact, err := h.contacts.UpdateStatus(ctx, id, req.Status)
	if err != nil {
		return httputil.Fail(storeErr("contacts.update", "Contact", err))
	}
	return httputil.OK(contact)
}

func (h *ContactHandlers) delete(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	if err := h.contacts.Delete(ctx, id); err != nil {
		return httputil.Fail(storeErr("contacts.delete", "Contact", err))
	}
	return httputil.NoContent()
}
