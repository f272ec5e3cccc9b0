package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/middleware"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

func TestServer_NotFound(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route not found", errorOf(t, rec).Error)

	rec = h.do(http.MethodGet, "/elsewhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RequestID(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/jobs/open", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := h.request(http.MethodGet, "/api/jobs/open", "", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = h.serve(req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_Health(t *testing.T) {
	checker := observability.NewHealthChecker(nil, nil)
	h := newHarness(t, func(d *Deps) { d.Health = checker })

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health/ready", "", nil).Code)

	checker.AddCheck("database", true, func(ctx context.Context) error { return errors.New("down") })
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/health", "", nil).Code)
}

func TestServer_Authentication(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no credentials", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodGet, "/api/projects", tt.token, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	forged, err := auth.IssueToken([]byte("another-secret-another-secret!!"), testIssuer,
		&auth.User{ID: "00000000-0000-0000-0000-000000000001", Role: auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/projects", forged, nil).Code)
}

func TestServer_SessionIntrospection(t *testing.T) {
	h := newHarness(t)
	token, id := h.token(auth.RoleClient)

	rec := h.do(http.MethodGet, "/api/auth/session", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res sessionResponse
	data(t, rec, &res)
	assert.Equal(t, id.String(), res.User.ID)
	assert.Equal(t, auth.RoleClient, res.User.Role)
	assert.Contains(t, res.User.Permissions, auth.PermSubmissionsWrite)
	assert.Nil(t, res.Profile)

	_, err := h.store.Profiles.Upsert(context.Background(), &storage.Profile{ID: id, Email: "c@example.com", Role: "client"})
	require.NoError(t, err)
	data(t, h.do(http.MethodGet, "/api/auth/session", token, nil), &res)
	require.NotNil(t, res.Profile)
	assert.Equal(t, "c@example.com", res.Profile.Email)
}

func TestServer_Logout(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cookie := rec.Result().Cookies()
	require.Len(t, cookie, 1)
	assert.Equal(t, auth.DefaultCookieName, cookie[0].Name)
	assert.True(t, cookie[0].MaxAge < 0)
}

func TestServer_LoginRoutesNeedOIDC(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/auth/login", "", nil).Code)
}

func TestServer_ResponseCache(t *testing.T) {
	metrics := observability.NewUnregisteredMetrics()
	cache := middleware.NewResponseCache(64, time.Minute, newCallers(t), metrics)
	h := newHarness(t, func(d *Deps) { d.Cache = cache })
	token, _ := h.token(auth.RoleAdmin)

	first := h.do(http.MethodGet, "/api/jobs", token, nil)
	require.Equal(t, http.StatusOK, first.Code)
	second := h.do(http.MethodGet, "/api/jobs", token, nil)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))

	created := h.do(http.MethodPost, "/api/jobs", token, map[string]string{"title": "Site engineer"})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	assert.Equal(t, 0, cache.Len(), "a write purges the cache")

	var jobs []storage.Job
	data(t, h.do(http.MethodGet, "/api/jobs", token, nil), &jobs)
	assert.Len(t, jobs, 1)
}

func TestServer_CacheRejectsExpiredSession(t *testing.T) {
	cache := middleware.NewResponseCache(64, time.Minute, newCallers(t), nil)
	h := newHarness(t, func(d *Deps) { d.Cache = cache })

	id := uuid.New()
	live := h.tokenFor(id, auth.RoleAdmin)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/jobs", live, nil).Code)
	require.Equal(t, "HIT", h.do(http.MethodGet, "/api/jobs", live, nil).Header().Get("X-Cache"))

	expired, err := auth.IssueToken(testSecret, testIssuer, &auth.User{ID: id.String(), Role: auth.RoleAdmin}, -time.Minute)
	require.NoError(t, err)
	rec := h.do(http.MethodGet, "/api/jobs", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))

	forged := h.do(http.MethodGet, "/api/jobs", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, forged.Code)
}

func TestServer_PublicFormsAreRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
		BurstSize:         1,
	})
	h := newHarness(t, func(d *Deps) {
		d.PublicLimiter = middleware.NewRateLimitMiddleware(limiter, "public_form", nil, d.Metrics)
	})

	body := map[string]string{"name": "Ann", "email": "ann@example.com", "message": "Hello"}
	assert.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/api/contact", "", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/api/contact", "", body).Code)
	// made-up bearer tokens do not buy a fresh bucket
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/api/contact", "forged-1", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.do(http.MethodPost, "/api/contact", "forged-2", body).Code)

	// the limiter only guards the public forms
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/jobs/open", "", nil).Code)
}

func TestServer_BodyLimit(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.MaxBodyBytes = 64 })
	token, _ := h.token(auth.RoleAdmin)

	big := map[string]string{"title": string(make([]byte, 128))}
	rec := h.do(http.MethodPost, "/api/jobs", token, big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorOf(t, rec).Error, "exceeds")
}

func TestServer_UnknownFieldsRejected(t *testing.T) {
	h := newHarness(t)
	token, _ := h.token(auth.RoleAdmin)

	rec := h.do(http.MethodPost, "/api/jobs", token, `{"title":"x","salary":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
