package rbac

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/contextkeys"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// Requirement is the access rule for one route. An empty Roles or Permissions
// list does not restrict on that dimension.
type Requirement struct {
	Roles       []auth.Role
	Permissions []auth.Permission
	// RequireAll demands every permission instead of any one of them
	RequireAll bool
}

// Session only requires an authenticated caller
var Session = Requirement{}

// Call is what a gated handler receives
type Call struct {
	User    *auth.User
	Request *http.Request
	Params  map[string]string
}

// Param returns a route parameter
func (c *Call) Param(name string) string {
	return c.Params[name]
}

// HandlerFunc is a resource handler behind a gate
type HandlerFunc func(ctx context.Context, call *Call) httputil.Result

// Authorize decides whether user satisfies req. It has no side effects.
func Authorize(user *auth.User, req Requirement) error {
	if user == nil {
		return apierr.Unauthenticated("")
	}

	if len(req.Roles) > 0 && !user.InRoles(req.Roles...) {
		return apierr.Forbidden("")
	}

	if len(req.Permissions) > 0 {
		if req.RequireAll {
			if !user.HasAll(req.Permissions...) {
				return apierr.Forbidden("")
			}
		} else if !user.HasAny(req.Permissions...) {
			return apierr.Forbidden("")
		}
	}

	return nil
}

// Gate resolves the session and enforces a Requirement before a handler runs
type Gate struct {
	resolver auth.SessionResolver
	policy   *auth.Policy
	metrics  *observability.Metrics
}

// NewGate creates a gate. metrics may be nil.
func NewGate(resolver auth.SessionResolver, policy *auth.Policy, metrics *observability.Metrics) *Gate {
	return &Gate{resolver: resolver, policy: policy, metrics: metrics}
}

// Wrap protects fn with req. It panics when req names a role or permission
// the policy does not know, so a typo fails at start-up instead of locking
// everyone out at runtime.
func (g *Gate) Wrap(req Requirement, fn HandlerFunc) http.Handler {
	if err := g.validate(req); err != nil {
		panic(fmt.Sprintf("rbac: invalid requirement: %v", err))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if contextkeys.IsGated(ctx) {
			observability.FromContext(ctx).
				WithField("path", r.URL.Path).
				Error("Nested authorization gate refused")
			g.record("nested")
			httputil.WriteInternalError(w)
			return
		}

		user, err := g.resolver.Resolve(ctx, r)
		if err != nil && !errors.Is(err, auth.ErrInvalidSession) {
			g.record("error")
			httputil.WriteResult(w, r, httputil.Fail(apierr.Upstream("failed to resolve session", err)))
			return
		}

		if err := Authorize(user, req); err != nil {
			g.record(apierr.KindOf(err).String())
			httputil.WriteAPIError(w, err)
			return
		}
		g.record("allowed")

		ctx = contextkeys.WithGate(ctx)
		ctx = contextkeys.WithUser(ctx, user)
		ctx = contextkeys.WithUserID(ctx, user.ID)
		r = r.WithContext(ctx)

		res := fn(ctx, &Call{User: user, Request: r, Params: mux.Vars(r)})
		httputil.WriteResult(w, r, res)
	})
}

// Public adapts fn for a route without a gate. Call.User is nil.
func Public(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := fn(r.Context(), &Call{Request: r, Params: mux.Vars(r)})
		httputil.WriteResult(w, r, res)
	})
}

// UserFromContext returns the user a gate admitted, if any
func UserFromContext(ctx context.Context) *auth.User {
	user, _ := ctx.Value(contextkeys.UserKey).(*auth.User)
	return user
}

func (g *Gate) validate(req Requirement) error {
	for _, role := range req.Roles {
		if !g.policy.KnowsRole(role) {
			return fmt.Errorf("unknown role %q", role)
		}
	}
	for _, perm := range req.Permissions {
		if !g.policy.KnowsPermission(perm) {
			return fmt.Errorf("unknown permission %q", perm)
		}
	}
	return nil
}

func (g *Gate) record(outcome string) {
	if g.metrics == nil {
		return
	}
	g.metrics.AuthzDecisionsTotal.WithLabelValues(outcome).Inc()
}
