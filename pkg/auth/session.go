package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// DefaultCookieName is the session cookie read when no bearer token is sent
const DefaultCookieName = "opsdesk_session"

// ErrInvalidSession is returned when credentials are present but cannot be
// turned into a user: bad signature, expired, or an unknown role.
var ErrInvalidSession = errors.New("invalid session")

// SessionResolver turns request credentials into a User. It returns
// (nil, nil) when the request carries no credentials at all.
type SessionResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*User, error)
}

// ResolverFunc adapts a function to SessionResolver
type ResolverFunc func(ctx context.Context, r *http.Request) (*User, error)

func (f ResolverFunc) Resolve(ctx context.Context, r *http.Request) (*User, error) {
	return f(ctx, r)
}

// Credential returns the raw session credential: the bearer token, else the
// session cookie. The bool is false when the request carries neither.
func Credential(r *http.Request, cookieName string) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token), true
		}
		// a malformed header is still a credential, just an invalid one
		return "", true
	}

	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	return "", false
}

// ChainResolver tries each resolver in order. The first one that recognizes
// the credential wins; ErrInvalidSession from one resolver lets the next try.
type ChainResolver []SessionResolver

func (c ChainResolver) Resolve(ctx context.Context, r *http.Request) (*User, error) {
	var lastErr error
	for _, resolver := range c {
		user, err := resolver.Resolve(ctx, r)
		if err != nil {
			if errors.Is(err, ErrInvalidSession) {
				lastErr = err
				continue
			}
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}
	return nil, lastErr
}
