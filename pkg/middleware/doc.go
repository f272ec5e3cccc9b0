// Package middleware provides the shared-state HTTP middleware of the API:
// per-caller rate limiting and the advisory response cache.
//
// Callers are identified by the user ID of a session the resolver accepted,
// falling back to the client address. Forwarding headers count only when the
// peer is a configured trusted proxy. Requests with a credential that does not
// verify skip the cache and are left for the authorization gate in pkg/rbac
// to reject.
//
//	callers, err := middleware.NewCallers(resolver, "opsdesk_session", []string{"10.0.0.0/8"})
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	limiter.StartCleanup(ctx)
//	router.Use(middleware.NewRateLimitMiddleware(limiter, "api", callers, metrics).Handler)
//
//	cache := middleware.NewResponseCache(1000, 30*time.Second, callers, metrics)
//	router.Use(cache.Handler)
//
// With Redis configured, NewDistributedRateLimiter shares a fixed-window
// counter across instances and allows requests when Redis is unreachable.
package middleware
