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

// EmployeeHandlers serves the staff directory
type EmployeeHandlers struct {
	employees storage.EmployeeStore
	recorder  *activity.Recorder
}

// NewEmployeeHandlers creates employee handlers
func NewEmployeeHandlers(employees storage.EmployeeStore, recorder *activity.Recorder) *EmployeeHandlers {
	return &EmployeeHandlers{employees: employees, recorder: recorder}
}

// RegisterRoutes registers employee routes
func (h *EmployeeHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	read := rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin, auth.RoleManager},
		Permissions: []auth.Permission{auth.PermEmployeesRead},
	}

	// /me before /{id}
	router.Handle("/api/employees/me", gate.Wrap(rbac.Session, h.me)).Methods("GET")
	router.Handle("/api/employees", gate.Wrap(read, h.list)).Methods("GET")
	router.Handle("/api/employees/{id}", gate.Wrap(read, h.get)).Methods("GET")
	router.Handle("/api/employees", gate.Wrap(rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin},
		Permissions: []auth.Permission{auth.PermEmployeesWrite},
	}, h.create)).Methods("POST")
	router.Handle("/api/employees/{id}", gate.Wrap(rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin, auth.RoleManager},
		Permissions: []auth.Permission{auth.PermEmployeesWrite},
	}, h.update)).Methods("PATCH")
	router.Handle("/api/employees/{id}", gate.Wrap(rbac.Requirement{
		Roles:       []auth.Role{auth.RoleAdmin},
		Permissions: []auth.Permission{auth.PermEmployeesDelete},
	}, h.delete)).Methods("DELETE")
}

func (h *EmployeeHandlers) list(ctx context.Context, call *rbac.Call) httputil.Result {
	page, err := pageOf(call.Request)
	if err != nil {
		return httputil.Fail(err)
	}
	filter := storage.EmployeeFilter{
		Status:     httputil.ParseQueryString(call.Request, "status", ""),
		Department: httputil.ParseQueryString(call.Request, "department", ""),
		Search:     strings.TrimSpace(httputil.ParseQueryString(call.Request, "q", "")),
		Page:       page,
	}
	fields := httputil.FieldErrors{}
	fields.OneOf("status", filter.Status, storage.EmployeeStatuses...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	employees, err := h.employees.List(ctx, filter)
	if err != nil {
		return httputil.Fail(apierr.Upstream("employees.list", err))
	}
	return httputil.OK(employees)
}

func (h *EmployeeHandlers) me(ctx context.Context, call *rbac.Call) httputil.Result {
	uid, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}
	employee, err := h.employees.GetByUserID(ctx, uid)
	if err != nil {
		return httputil.Fail(storeErr("employees.get_by_user", "Employee", err))
	}
	return httputil.OK(employee)
}

func (h *EmployeeHandlers) get(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	employee, err := h.employees.Get(ctx, id)
	if err != nil {
		return httputil.Fail(storeErr("employees.get", "Employee", err))
	}
	return httputil.OK(employee)
}

type createEmployeeRequest struct {
	UserID     *uuid.UUID    `json:"user_id"`
	FirstName  string        `json:"first_name"`
	LastName   string        `json:"last_name"`
	Email      string        `json:"email"`
	Phone      string        `json:"phone"`
	Position   string        `json:"position"`
	Department string        `json:"department"`
	Status     string        `json:"status"`
	HireDate   *storage.Date `json:"hire_date"`
}

func (req *createEmployeeRequest) validate() error {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)

	fields := httputil.FieldErrors{}
	fields.Require("first_name", req.FirstName)
	fields.Require("last_name", req.LastName)
	fields.Require("email", req.Email)
	fields.Email("email", req.Email)
	fields.OneOf("status", req.Status, storage.EmployeeStatuses...)
	return fields.Err()
}

func (h *EmployeeHandlers) create(ctx context.Context, call *rbac.Call) httputil.Result {
	var req createEmployeeRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}
	if err := req.validate(); err != nil {
		return httputil.Fail(err)
	}

	employee := &storage.Employee{
		UserID:     req.UserID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		Phone:      req.Phone,
		Position:   req.Position,
		Department: req.Department,
		Status:     req.Status,
		HireDate:   req.HireDate,
	}
	if err := h.employees.Create(ctx, employee); err != nil {
		return httputil.Fail(storeErr("employees.create", "Employee", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionEmployeeCreated, "employee", employee.ID.String(),
		storage.JSONObject{"email": employee.Email})
	return httputil.Created(employee)
}

func validateEmployeePatch(patch *storage.EmployeePatch) error {
	patch.FirstName = trimmed(patch.FirstName)
	patch.LastName = trimmed(patch.LastName)
	patch.Email = trimmed(patch.Email)

	fields := httputil.FieldErrors{}
	requireIfSet(fields, "first_name", patch.FirstName)
	requireIfSet(fields, "last_name", patch.LastName)
	if patch.Email != nil {
		fields.Require("email", *patch.Email)
		fields.Email("email", *patch.Email)
	}
	oneOfIfSet(fields, "status", patch.Status, storage.EmployeeStatuses)
	return fields.Err()
}

func (h *EmployeeHandlers) update(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	var patch storage.EmployeePatch
	if err := httputil.ParseJSON(call.Request, &patch); err != nil {
		return httputil.Fail(err)
	}
	if err := validateEmployeePatch(&patch); err != nil {
		return httputil.Fail(err)
	}

	employee, err := h.employees.Update(ctx, id, patch)
	if err != nil {
		return httputil.Fail(storeErr("employees.update", "Employee", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionEmployeeUpdated, "employee", id.String(), nil)
	return httputil.OK(employee)
}

func (h *EmployeeHandlers) delete(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	if err := h.employees.Delete(ctx, id); err != nil {
		return httputil.Fail(storeErr("employees.delete", "Employee", err))
	}

	h.recorder.Record(ctx, call.User.ID, activity.ActionEmployeeDeleted, "employee", id.String(), nil)
	return httputil.NoContent()
}
