package api

import (
	"context"
	"sync"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// DashboardHandlers serves summary counts scoped to the caller
type DashboardHandlers struct {
	stores    Stores
	ownership *rbac.Ownership
}

// NewDashboardHandlers creates dashboard handlers
func NewDashboardHandlers(stores Stores, ownership *rbac.Ownership) *DashboardHandlers {
	return &DashboardHandlers{stores: stores, ownership: ownership}
}

// RegisterRoutes registers dashboard routes
func (h *DashboardHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	router.Handle("/api/dashboard/stats", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermDashboardRead},
	}, h.stats)).Methods("GET")
}

type counter func(ctx context.Context) (int, error)

// stats runs every count the caller may see concurrently. Project, task and
// submission counts go through the same narrowing as the list endpoints.
func (h *DashboardHandlers) stats(ctx context.Context, call *rbac.Call) httputil.Result {
	counters := h.counters(call.User)

	var mu sync.Mutex
	stats := make(map[string]int, len(counters))

	g, gctx := errgroup.WithContext(ctx)
	for name, count := range counters {
		g.Go(func() error {
			n, err := count(gctx)
			if err != nil {
				return apierr.Upstream("dashboard."+name, err)
			}
			mu.Lock()
			stats[name] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return httputil.Fail(err)
	}
	return httputil.OK(stats)
}

// counters picks the counts user may see. A group whose narrowing does not
// apply to the caller's role is left out.
func (h *DashboardHandlers) counters(user *auth.User) map[string]counter {
	s := h.stores
	counters := map[string]counter{}

	if all, err := h.ownership.ProjectFilter(user, storage.ProjectFilter{}); err == nil && user.Has(auth.PermProjectsRead) {
		active := all
		active.Status = "in_progress"
		counters["projects"] = func(ctx context.Context) (int, error) { return s.Projects.Count(ctx, all) }
		counters["active_projects"] = func(ctx context.Context) (int, error) { return s.Projects.Count(ctx, active) }
	}

	if all, err := h.ownership.TaskFilter(user, storage.TaskFilter{}); err == nil && user.Has(auth.PermTasksRead) {
		counters["tasks"] = func(ctx context.Context) (int, error) { return s.Tasks.Count(ctx, all) }

		if user.Role == auth.RoleEmployee {
			uid, _ := rbac.UserUUID(user)
			mine := storage.TaskFilter{AssigneeID: &uid}
			counters["assigned_tasks"] = func(ctx context.Context) (int, error) { return s.Tasks.Count(ctx, mine) }
		}
	}

	if all, err := h.ownership.SubmissionFilter(user, storage.SubmissionFilter{}); err == nil && user.Has(auth.PermSubmissionsRead) {
		pending := all
		pending.Status = storage.SubmissionPending
		counters["submissions"] = func(ctx context.Context) (int, error) { return s.Submissions.Count(ctx, all) }
		counters["pending_submissions"] = func(ctx context.Context) (int, error) { return s.Submissions.Count(ctx, pending) }
	}

	if user.Has(auth.PermEmployeesRead) {
		counters["employees"] = func(ctx context.Context) (int, error) {
			return s.Employees.Count(ctx, storage.EmployeeFilter{Status: "active"})
		}
	}
	if user.Has(auth.PermContactsRead) {
		counters["new_contacts"] = func(ctx context.Context) (int, error) {
			return s.Contacts.Count(ctx, storage.ContactFilter{Status: "new"})
		}
	}
	if user.Has(auth.PermInboxRead) {
		counters["unread_emails"] = func(ctx context.Context) (int, error) {
			return s.Emails.Count(ctx, storage.EmailFilter{Direction: storage.EmailInbound, UnreadOnly: true})
		}
	}
	return counters
}
