package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/middleware"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// storeErr translates a store failure for resource into the error taxonomy
func storeErr(op, resource string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apierr.NotFound(resource)
	case errors.Is(err, storage.ErrConflict):
		return apierr.Validationf("%s already exists", strings.ToLower(resource))
	case errors.Is(err, storage.ErrReferenceMissing):
		return apierr.Validation("referenced record does not exist")
	default:
		return apierr.Upstream(op, err)
	}
}

// narrowedStoreErr is storeErr for lookups behind an ownership check: a missing
// record is Forbidden for employees and clients
func narrowedStoreErr(user *auth.User, op, resource string, err error) error {
	if errors.Is(err, storage.ErrNotFound) && !user.Role.Unrestricted() {
		return apierr.Forbidden("")
	}
	return storeErr(op, resource, err)
}

// pathID parses a UUID route parameter
func pathID(call *rbac.Call, key string) (uuid.UUID, error) {
	return httputil.PathUUID(call.Params, key)
}

// actorID returns the caller's store id
func actorID(call *rbac.Call) (uuid.UUID, error) {
	return rbac.UserUUID(call.User)
}

// pageOf parses limit/offset into a store page
func pageOf(r *http.Request) (storage.Page, error) {
	p, err := httputil.ParsePage(r)
	if err != nil {
		return storage.Page{}, err
	}
	return storage.Page{Limit: p.Limit, Offset: p.Offset}, nil
}

// optionalBody reports whether the request carries a body worth decoding
func optionalBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func requireIfSet(f httputil.FieldErrors, field string, value *string) {
	if value != nil {
		f.Require(field, *value)
	}
}

func oneOfIfSet(f httputil.FieldErrors, field string, value *string, allowed []string) {
	if value != nil {
		if *value == "" {
			f.Add(field, field+" must not be empty")
			return
		}
		f.OneOf(field, *value, allowed...)
	}
}

func dateOrder(f httputil.FieldErrors, start, end *storage.Date) {
	if start != nil && end != nil && end.Time.Before(start.Time) {
		f.Add("end_date", "must not be before start_date")
	}
}

// limited wraps h with a public rate limiter when one is configured
func limited(limiter *middleware.RateLimitMiddleware, h http.Handler) http.Handler {
	if limiter == nil {
		return h
	}
	return limiter.Handler(h)
}
