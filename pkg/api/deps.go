package api

import (
	"time"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/approval"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/broadcast"
	"github.com/platinummonkey/opsdesk/pkg/mail"
	"github.com/platinummonkey/opsdesk/pkg/middleware"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
	"github.com/platinummonkey/opsdesk/pkg/storage/objectstore"
	"github.com/platinummonkey/opsdesk/pkg/webhooks"
)

// Stores is the persistence the handlers use
type Stores struct {
	Profiles    storage.ProfileStore
	Employees   storage.EmployeeStore
	Projects    storage.ProjectStore
	Tasks       storage.TaskStore
	Submissions storage.SubmissionStore
	Jobs        storage.JobStore
	Comments    storage.CommentStore
	Attachments storage.AttachmentStore
	Contacts    storage.ContactStore
	Emails      storage.EmailStore
	Activity    storage.ActivityStore
	Relations   rbac.Relations
}

// Deps wires the server. Optional parts may be nil: Objects disables
// uploads, Outbox/Poller disable mail, Login disables the OIDC routes,
// Webhooks disables the receiver, and the cache and limiters are skipped.
type Deps struct {
	Stores    Stores
	Objects   objectstore.Store
	Approvals *approval.Service
	Outbox    *mail.Outbox
	Poller    *mail.Poller
	Hub       *broadcast.Hub
	Recorder  *activity.Recorder
	Gate      *rbac.Gate
	Ownership *rbac.Ownership
	Login     *auth.OIDCLogin
	Health    *observability.HealthChecker
	Webhooks  *webhooks.Receiver

	Cache         *middleware.ResponseCache
	APILimiter    *middleware.RateLimitMiddleware
	PublicLimiter *middleware.RateLimitMiddleware

	Metrics *observability.Metrics
	Logger  *observability.Logger

	CookieName     string
	CookieSecure   bool
	SessionTTL     time.Duration
	MaxBodyBytes   int64
	MaxUploadBytes int64
	AllowedOrigins []string
	// HeartbeatInterval paces SSE keep-alive comments
	HeartbeatInterval time.Duration
}
