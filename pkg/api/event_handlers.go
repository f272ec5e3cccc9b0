package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/broadcast"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
)

// DefaultHeartbeat is how often an idle event stream sends a comment frame
const DefaultHeartbeat = 25 * time.Second

// EventHandlers streams broadcast events to browsers as server-sent events
type EventHandlers struct {
	hub       *broadcast.Hub
	heartbeat time.Duration
}

// NewEventHandlers creates event handlers
func NewEventHandlers(hub *broadcast.Hub, heartbeat time.Duration) *EventHandlers {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &EventHandlers{hub: hub, heartbeat: heartbeat}
}

// RegisterRoutes registers the event stream. It must not sit behind the
// response cache.
func (h *EventHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	router.Handle("/api/events", gate.Wrap(rbac.Session, h.stream)).Methods("GET")
}

// canSee reports whether user may receive events on channel
func canSee(user *auth.User, channel string) bool {
	switch channel {
	case broadcast.ChannelInbox:
		return user.Has(auth.PermInboxRead)
	case broadcast.ChannelSubmissions:
		return user.Has(auth.PermSubmissionsApprove)
	default:
		return user.Role.Unrestricted()
	}
}

func (h *EventHandlers) stream(ctx context.Context, call *rbac.Call) httputil.Result {
	var only map[string]bool
	if raw := httputil.ParseQueryString(call.Request, "channel", ""); raw != "" {
		only = make(map[string]bool)
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				only[c] = true
			}
		}
	}
	user := call.User

	return httputil.Stream(func(w http.ResponseWriter) error {
		rc := http.NewResponseController(w)
		// the server write timeout does not apply to a long-lived stream
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil {
			return fmt.Errorf("failed to flush event stream: %w", err)
		}

		events := h.hub.Subscribe(ctx)
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case evt, open := <-events:
				if !open {
					return nil
				}
				if (only != nil && !only[evt.Channel]) || !canSee(user, evt.Channel) {
					continue
				}
				if err := broadcast.WriteSSE(w, evt); err != nil {
					return fmt.Errorf("failed to write event: %w", err)
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return fmt.Errorf("failed to write heartbeat: %w", err)
				}
			}
			if err := rc.Flush(); err != nil {
				return fmt.Errorf("failed to flush event stream: %w", err)
			}
		}
	})
}
