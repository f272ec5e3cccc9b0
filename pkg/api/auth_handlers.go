package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

const (
	stateCookieName = "opsdesk_oidc_state"
	stateTTL        = 10 * time.Minute
)

// AuthHandlers serves session introspection and, when configured, the OIDC
// login flow
type AuthHandlers struct {
	profiles     storage.ProfileStore
	login        *auth.OIDCLogin
	cookieName   string
	cookieSecure bool
	sessionTTL   time.Duration
}

// NewAuthHandlers creates auth handlers. login may be nil.
func NewAuthHandlers(profiles storage.ProfileStore, login *auth.OIDCLogin, cookieName string, cookieSecure bool, sessionTTL time.Duration) *AuthHandlers {
	if cookieName == "" {
		cookieName = auth.DefaultCookieName
	}
	return &AuthHandlers{
		profiles:     profiles,
		login:        login,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
		sessionTTL:   sessionTTL,
	}
}

// RegisterRoutes registers the session route. It must not sit behind the
// response cache.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	router.Handle("/api/auth/session", gate.Wrap(rbac.Session, h.session)).Methods("GET")
	router.Handle("/api/auth/logout", rbac.Public(h.logout)).Methods("POST")
	if h.login != nil {
		router.Handle("/api/auth/login", rbac.Public(h.start)).Methods("GET")
		router.Handle("/api/auth/callback", rbac.Public(h.callback)).Methods("GET")
	}
}

type sessionResponse struct {
	User    *auth.User       `json:"user"`
	Profile *storage.Profile `json:"profile,omitempty"`
}

func (h *AuthHandlers) session(ctx context.Context, call *rbac.Call) httputil.Result {
	res := sessionResponse{User: call.User}

	if id, err := uuid.Parse(call.User.ID); err == nil && h.profiles != nil {
		profile, err := h.profiles.Get(ctx, id)
		switch {
		case err == nil:
			res.Profile = profile
		case !errors.Is(err, storage.ErrNotFound):
			return httputil.Fail(apierr.Upstream("profiles.get", err))
		}
	}
	return httputil.OK(res)
}

func (h *AuthHandlers) logout(ctx context.Context, call *rbac.Call) httputil.Result {
	return httputil.Stream(func(w http.ResponseWriter) error {
		http.SetCookie(w, h.cookie(h.cookieName, "", -1))
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

func (h *AuthHandlers) start(ctx context.Context, call *rbac.Call) httputil.Result {
	state, err := auth.NewState()
	if err != nil {
		return httputil.Fail(apierr.Upstream("auth.state", err))
	}
	target := h.login.AuthCodeURL(state)

	return httputil.Stream(func(w http.ResponseWriter) error {
		http.SetCookie(w, h.cookie(stateCookieName, state, int(stateTTL.Seconds())))
		http.Redirect(w, call.Request, target, http.StatusFound)
		return nil
	})
}

func (h *AuthHandlers) callback(ctx context.Context, call *rbac.Call) httputil.Result {
	r := call.Request
	if msg := r.URL.Query().Get("error"); msg != "" {
		return httputil.Fail(apierr.Unauthenticated("Login was cancelled"))
	}

	cookie, err := r.Cookie(stateCookieName)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		return httputil.Fail(apierr.Unauthenticated("Login state mismatch"))
	}

	token, user, err := h.login.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("OIDC exchange failed")
		return httputil.Fail(apierr.Unauthenticated("Login failed"))
	}
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id": user.ID,
		"role":    string(user.Role),
	}).Info("User signed in")

	return httputil.Stream(func(w http.ResponseWriter) error {
		http.SetCookie(w, h.cookie(stateCookieName, "", -1))
		http.SetCookie(w, h.cookie(h.cookieName, token, int(h.sessionTTL.Seconds())))
		http.Redirect(w, r, "/", http.StatusFound)
		return nil
	})
}

func (h *AuthHandlers) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
