package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/approval"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// SubmissionHandlers serves project intake submissions and their review
type SubmissionHandlers struct {
	submissions storage.SubmissionStore
	approvals   *approval.Service
	ownership   *rbac.Ownership
	recorder    *activity.Recorder
}

// NewSubmissionHandlers creates submission handlers
func NewSubmissionHandlers(submissions storage.SubmissionStore, approvals *approval.Service,
	ownership *rbac.Ownership, recorder *activity.Recorder) *SubmissionHandlers {
	return &SubmissionHandlers{
		submissions: submissions,
		approvals:   approvals,
		ownership:   ownership,
		recorder:    recorder,
	}
}

// RegisterRoutes registers submission routes
func (h *SubmissionHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	read := rbac.Requirement{Permissions: []auth.Permission{auth.PermSubmissionsRead}}
	review := rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin, auth.RoleManager},
		Permissions: []auth.Permission{auth.PermSubmissionsApprove},
	}

	router.Handle("/api/submissions", gate.Wrap(read, h.list)).Methods("GET")
	router.Handle("/api/submissions/{id}", gate.Wrap(read, h.get)).Methods("GET")
	router.Handle("/api/submissions", gate.Wrap(rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin, auth.RoleClient},
		Permissions: []auth.Permission{auth.PermSubmissionsWrite},
	}, h.create)).Methods("POST")
	router.Handle("/api/submissions/{id}/approve", gate.Wrap(review, h.approve)).Methods("POST")
	router.Handle("/api/submissions/{id}/reject", gate.Wrap(review, h.reject)).Methods("POST")
}

func (h *SubmissionHandlers) list(ctx context.Context, call *rbac.Call) httputil.Result {
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	status := httputil.ParseQueryString(call.Request, "status", "")
	fields := httputil.FieldErrors{}
	fields.OneOf("status", status, storage.SubmissionStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	filter, err := h.ownership.SubmissionFilter(call.User, storage.SubmissionFilter{Status: status, Page: page})
	if err != nil {
		return httputil.Fail(err)
	}
	submissions, err := h.submissions.List(ctx, filter)
	if err != nil {
		return httputil.Fail(apierr.Upstream("submissions.list", err))
	}
	return httputil.OK(submissions)
}

func (h *SubmissionHandlers) get(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	if err := h.ownership.CanAccessSubmission(ctx, call.User, id); err != nil {
		return httputil.Fail(err)
	}
	submission, err := h.submissions.Get(ctx, id)
	if err != nil {
		return httputil.Fail(storeErr("submissions.get", "Submission", err))
	}
	return httputil.OK(submission)
}

type createSubmissionRequest struct {
	ClientID  *uuid.UUID         `json:"client_id"`
	Step1Data storage.JSONObject `json:"step1_data"`
	Step2Data storage.JSONObject `json:"step2_data"`
}

func (h *SubmissionHandlers) create(ctx context.Context, call *rbac.Call) httputil.Result {
	var req createSubmissionRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}

	fields := httputil.FieldErrors{}
	if req.Step1Data == nil {
		fields.Add("step1_data", "step1_data is required")
	}

	// clients always submit for themselves
	clientID := req.ClientID
	if call.User.Role == auth.RoleClient {
		uid, err := actorID(call)
		if err != nil {
			return httputil.Fail(err)
		}
		clientID = &uid
	} else if clientID == nil || *clientID == uuid.Nil {
		fields.Add("client_id", "client_id is required")
	}
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	submission := &storage.Submission{
		ClientID:  *clientID,
		Step1Data: req.Step1Data,
		Step2Data: req.Step2Data,
	}
	if err := h.submissions.Create(ctx, submission); err != nil {
		return httputil.Fail(storeErr("submissions.create", "Submission", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionSubmissionCreated, "submission", submission.ID.String(), nil)
	return httputil.Created(submission)
}

func (h *SubmissionHandlers) approve(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	reviewer, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}

	var overrides approval.Overrides
	if optionalBody(call.Request) {
		if err := httputil.ParseJSON(call.Request, &overrides); err != nil {
			return httputil.Fail(err)
		}
	}

	outcome, err := h.approvals.Approve(ctx, id, reviewer, overrides)
	if err != nil {
		return httputil.Fail(err)
	}
	return httputil.OK(outcome)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *SubmissionHandlers) reject(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	reviewer, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}

	var req rejectRequest
	if optionalBody(call.Request) {
		if err := httputil.ParseJSON(call.Request, &req); err != nil {
			return httputil.Fail(err)
		}
	}

	outcome, err := h.approvals.Reject(ctx, id, reviewer, req.Reason)
	if err != nil {
		return httputil.Fail(err)
	}
	return httputil.OK(outcome)
}
