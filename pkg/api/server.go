package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// DefaultMaxBodyBytes caps a JSON request body when no limit is configured
const DefaultMaxBodyBytes = 1 << 20

// multipartOverhead is headroom for form boundaries around an upload
const multipartOverhead = 1 << 20

// Server is the HTTP API
type Server struct {
	deps    Deps
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router and middleware chain from deps
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Server{deps: deps, router: mux.NewRouter()}
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.CORSMiddleware(deps.AllowedOrigins),
		observability.HTTPTracingMiddleware("opsdesk.http"),
	)(s.router)
	return s
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Router returns the bare router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// setupRoutes configures all the routes. Streams, downloads, webhooks and the
// auth flow sit on a subrouter without the response cache; everything else
// is cached for GETs and purges the cache on writes.
func (s *Server) setupRoutes() {
	d := s.deps
	gate := d.Gate

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteAPIError(w, apierr.NotFound("Route"))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	if d.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(d.Metrics))
	}

	if d.Health != nil {
		s.router.HandleFunc("/health", d.Health.Readiness).Methods("GET")
		s.router.HandleFunc("/health/live", d.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", d.Health.Readiness).Methods("GET")
	}

	uncached := s.router.NewRoute().Subrouter()
	cached := s.router.NewRoute().Subrouter()
	if d.APILimiter != nil {
		uncached.Use(d.APILimiter.Handler)
		cached.Use(d.APILimiter.Handler)
	}
	cached.Use(bodyLimit(d.MaxBodyBytes, d.MaxUploadBytes+multipartOverhead), httputil.ContentTypeMiddleware)
	if d.Cache != nil {
		cached.Use(d.Cache.Handler)
	}

	attachments := NewAttachmentHandlers(d.Stores.Attachments, d.Stores.Tasks, d.Objects, d.Ownership, d.Recorder, d.MaxUploadBytes)

	NewAuthHandlers(d.Stores.Profiles, d.Login, d.CookieName, d.CookieSecure, d.SessionTTL).RegisterRoutes(uncached, gate)
	NewEventHandlers(d.Hub, d.HeartbeatInterval).RegisterRoutes(uncached, gate)
	attachments.RegisterDownloadRoutes(uncached, gate)
	if d.Webhooks != nil {
		d.Webhooks.RegisterRoutes(uncached)
	}

	NewEmployeeHandlers(d.Stores.Employees, d.Recorder).RegisterRoutes(cached, gate)
	NewProjectHandlers(d.Stores.Projects, d.Stores.Tasks, d.Stores.Attachments, d.Objects, d.Ownership, d.Recorder).RegisterRoutes(cached, gate)
	NewTaskHandlers(d.Stores.Tasks, d.Ownership, d.Recorder).RegisterRoutes(cached, gate)
	NewSubmissionHandlers(d.Stores.Submissions, d.Approvals, d.Ownership, d.Recorder).RegisterRoutes(cached, gate)
	NewJobHandlers(d.Stores.Jobs, d.Recorder, d.PublicLimiter).RegisterRoutes(cached, gate)
	NewCommentHandlers(d.Stores.Comments, d.Stores.Tasks, d.Ownership).RegisterRoutes(cached, gate)
	attachments.RegisterRoutes(cached, gate)
	NewContactHandlers(d.Stores.Contacts, d.Recorder, d.PublicLimiter).RegisterRoutes(cached, gate)
	NewInboxHandlers(d.Stores.Emails, d.Outbox, d.Poller, d.Recorder).RegisterRoutes(cached, gate)
	NewDashboardHandlers(d.Stores, d.Ownership).RegisterRoutes(cached, gate)
	NewActivityHandlers(d.Stores.Activity).RegisterRoutes(cached, gate)
}

// bodyLimit caps request bodies, allowing multipart uploads a larger limit
func bodyLimit(jsonMax, uploadMax int64) func(http.Handler) http.Handler {
	jsonLimit := httputil.MaxBytesMiddleware(jsonMax)
	uploadLimit := httputil.MaxBytesMiddleware(uploadMax)
	return func(next http.Handler) http.Handler {
		small, large := jsonLimit(next), uploadLimit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				large.ServeHTTP(w, r)
				return
			}
			small.ServeHTTP(w, r)
		})
	}
}
