package api

import (
	"context"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// ActivityHandlers serves the activity feed
type ActivityHandlers struct {
	activity storage.ActivityStore
}

// NewActivityHandlers creates activity handlers
func NewActivityHandlers(activity storage.ActivityStore) *ActivityHandlers {
	return &ActivityHandlers{activity: activity}
}

// RegisterRoutes registers activity routes
func (h *ActivityHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	router.Handle("/api/activity", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermActivityRead},
	}, h.list)).Methods("GET")
}

func (h *ActivityHandlers) list(ctx context.Context, call *rbac.Call) httputil.Result {
	r := call.Request
	page, err := pageOf(r)
	if err != nil {
		return httputil.Fail(err)
	}
	actor, err := httputil.ParseQueryUUID(r, "actor_id")
	if err != nil {
		return httputil.Fail(err)
	}

	entries, err := h.activity.List(ctx, storage.ActivityFilter{
		EntityType: httputil.ParseQueryString(r, "entity_type", ""),
		EntityID:   httputil.ParseQueryString(r, "entity_id", ""),
		ActorID:    actor,
		Page:       page,
	})
	if err != nil {
		return httputil.Fail(apierr.Upstream("activity.list", err))
	}
	return httputil.OK(entries)
}
