package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// countingHandler answers GETs with a per-call counter and writes with status
func countingHandler(calls *atomic.Int32, writeStatus int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(writeStatus)
			return
		}
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":%d}`, n)
	})
}

func doRequest(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestResponseCache_HitAndMiss(t *testing.T) {
	var calls atomic.Int32
	metrics := observability.NewUnregisteredMetrics()
	cache := NewResponseCache(10, time.Minute, testCallers(t), metrics)
	h := cache.Handler(countingHandler(&calls, http.StatusOK))

	first := doRequest(h, http.MethodGet, "/api/projects?limit=5", "valid-alice")
	second := doRequest(h, http.MethodGet, "/api/projects?limit=5", "valid-alice")

	assert.Equal(t, `{"data":1}`, first.Body.String())
	assert.Equal(t, `{"data":1}`, second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("response")))
}

func TestResponseCache_KeyedByCaller(t *testing.T) {
	var calls atomic.Int32
	cache := NewResponseCache(10, time.Minute, testCallers(t), nil)
	h := cache.Handler(countingHandler(&calls, http.StatusOK))

	doRequest(h, http.MethodGet, "/api/projects", "valid-alice")
	bob := doRequest(h, http.MethodGet, "/api/projects", "valid-bob")
	anon := doRequest(h, http.MethodGet, "/api/projects", "")

	assert.Equal(t, `{"data":2}`, bob.Body.String())
	assert.Equal(t, `{"data":3}`, anon.Body.String())
	assert.Equal(t, 3, cache.Len())
}

func TestResponseCache_PurgedBySuccessfulWrite(t *testing.T) {
	var calls atomic.Int32
	cache := NewResponseCache(10, time.Minute, testCallers(t), nil)
	h := cache.Handler(countingHandler(&calls, http.StatusCreated))

	doRequest(h, http.MethodGet, "/api/tasks", "valid-alice")
	assert.Equal(t, 1, cache.Len())

	doRequest(h, http.MethodPost, "/api/tasks", "valid-bob")
	assert.Equal(t, 0, cache.Len())

	after := doRequest(h, http.MethodGet, "/api/tasks", "valid-alice")
	assert.Equal(t, `{"data":2}`, after.Body.String())
}

func TestResponseCache_FailedWriteKeepsEntries(t *testing.T) {
	var calls atomic.Int32
	cache := NewResponseCache(10, time.Minute, testCallers(t), nil)
	h := cache.Handler(countingHandler(&calls, http.StatusForbidden))

	doRequest(h, http.MethodGet, "/api/tasks", "valid-alice")
	doRequest(h, http.MethodPatch, "/api/tasks/1", "valid-alice")
	assert.Equal(t, 1, cache.Len())
}

func TestResponseCache_SkipsUncacheable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"error status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
		{"sets cookie", func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "opsdesk_session", Value: "x"})
			w.WriteHeader(http.StatusOK)
		}},
		{"no-store", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Write([]byte("file bytes"))
		}},
		{"event stream", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("data: {}\n\n"))
			w.(http.Flusher).Flush()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := NewResponseCache(10, time.Minute, testCallers(t), nil)
			doRequest(cache.Handler(tt.handler), http.MethodGet, "/api/x", "valid-alice")
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestResponseCache_Expires(t *testing.T) {
	var calls atomic.Int32
	cache := NewResponseCache(10, 20*time.Millisecond, testCallers(t), nil)
	h := cache.Handler(countingHandler(&calls, http.StatusOK))

	doRequest(h, http.MethodGet, "/api/jobs/open", "")
	time.Sleep(60 * time.Millisecond)
	again := doRequest(h, http.MethodGet, "/api/jobs/open", "")

	assert.Equal(t, `{"data":2}`, again.Body.String())
}

func TestResponseCache_UnverifiedCredentialBypasses(t *testing.T) {
	var calls atomic.Int32
	cache := NewResponseCache(10, time.Minute, testCallers(t), nil)
	h := cache.Handler(countingHandler(&calls, http.StatusOK))

	warm := doRequest(h, http.MethodGet, "/api/projects", "valid-alice")
	assert.Equal(t, `{"data":1}`, warm.Body.String())

	for _, token := range []string{"expired-alice", "garbage"} {
		rec := doRequest(h, http.MethodGet, "/api/projects", token)
		assert.Empty(t, rec.Header().Get("X-Cache"), token)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestResponseCache_KeyedByRoleAndPermissions(t *testing.T) {
	var calls atomic.Int32
	role := auth.RoleEmployee
	resolver := auth.ResolverFunc(func(ctx context.Context, r *http.Request) (*auth.User, error) {
		if _, ok := auth.Credential(r, ""); !ok {
			return nil, nil
		}
		return &auth.User{ID: "u1", Role: role}, nil
	})
	callers, err := NewCallers(resolver, "", nil)
	require.NoError(t, err)
	cache := NewResponseCache(10, time.Minute, callers, nil)
	h := cache.Handler(countingHandler(&calls, http.StatusOK))

	doRequest(h, http.MethodGet, "/api/dashboard", "t1")
	role = auth.RoleManager
	promoted := doRequest(h, http.MethodGet, "/api/dashboard", "t2")

	assert.Equal(t, `{"data":2}`, promoted.Body.String())
	assert.Empty(t, promoted.Header().Get("X-Cache"))
}
