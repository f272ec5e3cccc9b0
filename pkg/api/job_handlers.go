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

// JobHandlers serves job postings, the public careers page and applications
type JobHandlers struct {
	jobs     storage.JobStore
	recorder *activity.Recorder
	limiter  *middleware.RateLimitMiddleware
}

// NewJobHandlers creates job handlers. limiter guards the public application
// form and may be nil.
func NewJobHandlers(jobs storage.JobStore, recorder *activity.Recorder, limiter *middleware.RateLimitMiddleware) *JobHandlers {
	return &JobHandlers{jobs: jobs, recorder: recorder, limiter: limiter}
}

// RegisterRoutes registers job and application routes
func (h *JobHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	write := rbac.Requirement{Permissions: []auth.Permission{auth.PermJobsWrite}}

	router.Handle("/api/jobs/open", rbac.Public(h.listOpen)).Methods("GET")
	router.Handle("/api/jobs/{id}/applications", limited(h.limiter, rbac.Public(h.apply))).Methods("POST")

	router.Handle("/api/jobs", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermJobsRead},
	}, h.list)).Methods("GET")
	router.Handle("/api/jobs", gate.Wrap(write, h.create)).Methods("POST")
	router.Handle("/api/jobs/{id}", gate.Wrap(write, h.update)).Methods("PATCH")
	router.Handle("/api/jobs/{id}", gate.Wrap(rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin},
		Permissions: []auth.Permission{auth.PermJobsWrite},
	}, h.delete)).Methods("DELETE")

	router.Handle("/api/applications", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermApplicationsRead},
	}, h.listApplications)).Methods("GET")
	router.Handle("/api/applications/{id}", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermApplicationsWrite},
	}, h.updateApplication)).Methods("PATCH")
}

func (h *JobHandlers) listOpen(ctx context.Context, call *rbac.Call) httputil.Result {
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	jobs, err := h.jobs.List(ctx, storage.JobFilter{Status: "open", Page: page})
	if err != nil {
		return httputil.Fail(apierr.Upstream("jobs.list", err))
	}
	return httputil.OK(jobs)
}

func (h *JobHandlers) list(ctx context.Context, call *rbac.Call) httputil.Result {
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	status := httputil.ParseQueryString(call.Request, "status", "")
	fields := httputil.FieldErrors{}
	fields.OneOf("status", status, storage.JobStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	jobs, err := h.jobs.List(ctx, storage.JobFilter{Status: status, Page: page})
	if err != nil {
		return httputil.Fail(apierr.Upstream("jobs.list", err))
	}
	return httputil.OK(jobs)
}

type createJobRequest struct {
	Title          string `json:"title"`
	Department     string `json:"department"`
	Location       string `json:"location"`
	EmploymentType string `json:"employment_type"`
	Description    string `json:"description"`
	Status         string `json:"status"`
}

func (h *JobHandlers) create(ctx context.Context, call *rbac.Call) httputil.Result {
	var req createJobRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}
	if req.EmploymentType == "" {
		req.EmploymentType = "full_time"
	}
	if req.Status == "" {
		req.Status = "open"
	}

	fields := httputil.FieldErrors{}
	fields.Require("title", req.Title)
	fields.OneOf("employment_type", req.EmploymentType, storage.EmploymentTypes...)
	fields.OneOf("status", req.Status, storage.JobStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	job := &storage.Job{
		Title:          strings.TrimSpace(req.Title),
		Department:     strings.TrimSpace(req.Department),
		Location:       strings.TrimSpace(req.Location),
		EmploymentType: req.EmploymentType,
		Description:    req.Description,
		Status:         req.Status,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		return httputil.Fail(storeErr("jobs.create", "Job", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionJobCreated, "job", job.ID.String(), nil)
	return httputil.Created(job)
}

func (h *JobHandlers) update(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	var patch storage.JobPatch
	if err := httputil.ParseJSON(call.Request, &patch); err != nil {
		return httputil.Fail(err)
	}
	patch.Title = trimmed(patch.Title)

	fields := httputil.FieldErrors{}
	requireIfSet(fields, "title", patch.Title)
	oneOfIfSet(fields, "employment_type", patch.EmploymentType, storage.EmploymentTypes)
	oneOfIfSet(fields, "status", patch.Status, storage.JobStatuses)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	job, err := h.jobs.Update(ctx, id, patch)
	if err != nil {
		return httputil.Fail(storeErr("jobs.update", "Job", err))
	}
	return httputil.OK(job)
}

func (h *JobHandlers) delete(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	if err := h.jobs.Delete(ctx, id); err != nil {
		return httputil.Fail(storeErr("jobs.delete", "Job", err))
	}
	return httputil.NoContent()
}

type applyRequest struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	ResumeURL   string `json:"resume_url"`
	CoverLetter string `json:"cover_letter"`
}

func (h *JobHandlers) apply(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	var req applyRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}

	fields := httputil.FieldErrors{}
	fields.Require("full_name", req.FullName)
	fields.Require("email", req.Email)
	fields.Email("email", req.Email)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	// closed postings are invisible to the public
	job, err := h.jobs.Get(ctx, id)
	if err != nil {
		return httputil.Fail(storeErr("jobs.get", "Job", err))
	}
	if job.Status != "open" {
		return httputil.Fail(apierr.NotFound("Job"))
	}

	app := &storage.JobApplication{
		JobID:       job.ID,
		FullName:    strings.TrimSpace(req.FullName),
		Email:       strings.TrimSpace(req.Email),
		Phone:       strings.TrimSpace(req.Phone),
		ResumeURL:   strings.TrimSpace(req.ResumeURL),
		CoverLetter: req.CoverLetter,
		Status:      "new",
	}
	if err := h.jobs.CreateApplication(ctx, app); err != nil {
		return httputil.Fail(storeErr("jobs.create_application", "Application", err))
	}

	h.recorder.Record(ctx, "", activity.ActionApplicationCreated, "job_application", app.ID.String(),
		storage.JSONObject{"job_id": job.ID.String()})
	return httputil.Created(app)
}

func (h *JobHandlers) listApplications(ctx context.Context, call *rbac.Call) httputil.Result {
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	jobID, err := httputil.ParseQueryUUID(call.Request, "job_id")
	if err != nil {
		return httputil.Fail(err)
	}
	status := httputil.ParseQueryString(call.Request, "status", "")
	fields := httputil.FieldErrors{}
	fields.OneOf("status", status, storage.ApplicationStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	apps, err := h.jobs.ListApplications(ctx, storage.ApplicationFilter{JobID: jobID, Status: status, Page: page})
	if err != nil {
		return httputil.Fail(apierr.Upstream("jobs.list_applications", err))
	}
	return httputil.OK(apps)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *JobHandlers) updateApplication(ctx context.Context, call *rbac.Call) httputil.Result {
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
	fields.OneOf("status", req.Status, storage.ApplicationStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	app, err := h.jobs.UpdateApplicationStatus(ctx, id, req.Status)
	if err != nil {
		return httputil.Fail(storeErr("jobs.update_application", "Application", err))
	}
	return httputil.OK(app)
}
