package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *http.Request)
		want    string
		present bool
	}{
		{name: "none", setup: func(r *http.Request) {}},
		{name: "bearer", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, want: "abc", present: true},
		{name: "lowercase scheme", setup: func(r *http.Request) { r.Header.Set("Authorization", "bearer abc") }, want: "abc", present: true},
		{name: "other scheme", setup: func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, present: true},
		{name: "cookie", setup: func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "cookie-token"})
		}, want: "cookie-token", present: true},
		{name: "header wins over cookie", setup: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer header-token")
			r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "cookie-token"})
		}, want: "header-token", present: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)

			got, present := Credential(req, "")
			assert.Equal(t, tt.present, present)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChainResolver(t *testing.T) {
	invalid := ResolverFunc(func(ctx context.Context, r *http.Request) (*User, error) {
		return nil, ErrInvalidSession
	})
	absent := ResolverFunc(func(ctx context.Context, r *http.Request) (*User, error) {
		return nil, nil
	})
	found := ResolverFunc(func(ctx context.Context, r *http.Request) (*User, error) {
		return &User{ID: "u1", Role: RoleAdmin}, nil
	})
	broken := ResolverFunc(func(ctx context.Context, r *http.Request) (*User, error) {
		return nil, errors.New("profiles table unavailable")
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.Background()

	user, err := ChainResolver{invalid, found}.Resolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	user, err = ChainResolver{absent, absent}.Resolve(ctx, req)
	assert.NoError(t, err)
	assert.Nil(t, user)

	_, err = ChainResolver{invalid, absent}.Resolve(ctx, req)
	assert.True(t, errors.Is(err, ErrInvalidSession))

	_, err = ChainResolver{broken, found}.Resolve(ctx, req)
	assert.EqualError(t, err, "profiles table unavailable")
}
