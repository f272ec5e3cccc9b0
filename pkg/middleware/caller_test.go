package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/auth"
)

// testCallers accepts bearer tokens of the form "valid-<user id>" and rejects
// every other credential
func testCallers(t *testing.T, trustedProxies ...string) *Callers {
	t.Helper()
	resolver := auth.ResolverFunc(func(ctx context.Context, r *http.Request) (*auth.User, error) {
		token, ok := auth.Credential(r, "")
		if !ok {
			return nil, nil
		}
		id, found := strings.CutPrefix(token, "valid-")
		if !found || id == "" {
			return nil, auth.ErrInvalidSession
		}
		return &auth.User{ID: id, Role: auth.RoleEmployee, Permissions: []auth.Permission{"tasks:read"}}, nil
	})
	callers, err := NewCallers(resolver, "", trustedProxies)
	require.NoError(t, err)
	return callers
}

func TestCallers_Key(t *testing.T) {
	callers := testCallers(t)

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"verified bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer valid-u1") }, "user:u1"},
		{"verified cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: "valid-u1"})
		}, "user:u1"},
		{"forged bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer made-up") }, "ip:192.0.2.1"},
		{"forged cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: "made-up"})
		}, "ip:192.0.2.1"},
		{"other auth scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic Zm9v") }, "ip:192.0.2.1"},
		{"anonymous", func(r *http.Request) {}, "ip:192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
			tt.setup(r)
			assert.Equal(t, tt.want, callers.Key(r))
		})
	}
}

func TestCallers_NilTreatsCredentialsAsUnverified(t *testing.T) {
	var callers *Callers
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer valid-u1")

	assert.Equal(t, "ip:192.0.2.1", callers.Key(r))
	_, ok := callers.owner(r)
	assert.False(t, ok)
}

func TestCallers_ClientIP(t *testing.T) {
	tests := []struct {
		name      string
		trusted   []string
		remote    string
		forwarded string
		realIP    string
		want      string
	}{
		{name: "untrusted peer ignores forwarded", remote: "198.51.100.4:1234", forwarded: "203.0.113.9", want: "198.51.100.4"},
		{name: "untrusted peer ignores real ip", remote: "198.51.100.4:1234", realIP: "203.0.113.9", want: "198.51.100.4"},
		{name: "trusted proxy forwards client", trusted: []string{"10.0.0.0/8"}, remote: "10.0.0.1:5555",
			forwarded: "203.0.113.9", want: "203.0.113.9"},
		{name: "spoofed left hop is skipped", trusted: []string{"10.0.0.0/8"}, remote: "10.0.0.1:5555",
			forwarded: "1.2.3.4, 203.0.113.9, 10.0.0.7", want: "203.0.113.9"},
		{name: "garbled hop stops the walk", trusted: []string{"10.0.0.1"}, remote: "10.0.0.1:5555",
			forwarded: "203.0.113.9, nonsense", realIP: "192.0.2.7", want: "192.0.2.7"},
		{name: "trusted proxy real ip", trusted: []string{"10.0.0.1"}, remote: "10.0.0.1:5555",
			realIP: "192.0.2.7", want: "192.0.2.7"},
		{name: "trusted proxy without headers", trusted: []string{"10.0.0.1"}, remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "ipv6 peer", remote: "[2001:db8::1]:443", forwarded: "203.0.113.9", want: "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callers, err := NewCallers(nil, "", tt.trusted)
			require.NoError(t, err)

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, callers.ClientIP(r))
		})
	}
}

func TestNewCallers_InvalidProxy(t *testing.T) {
	_, err := NewCallers(nil, "", []string{"10.0.0.0/8", "not-an-address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-an-address")
}

func TestCallers_Owner(t *testing.T) {
	callers := testCallers(t)

	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	owner, ok := callers.owner(anon)
	assert.True(t, ok)
	assert.Equal(t, "anonymous", owner)

	forged := httptest.NewRequest(http.MethodGet, "/", nil)
	forged.Header.Set("Authorization", "Bearer expired")
	_, ok = callers.owner(forged)
	assert.False(t, ok)

	a := httptest.NewRequest(http.MethodGet, "/", nil)
	a.Header.Set("Authorization", "Bearer valid-u1")
	b := httptest.NewRequest(http.MethodGet, "/", nil)
	b.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: "valid-u1"})
	ownerA, _ := callers.owner(a)
	ownerB, _ := callers.owner(b)
	assert.Equal(t, ownerA, ownerB)
	assert.NotContains(t, ownerA, "valid-u1")
}
