package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrProfileNotFound is returned by a ProfileLookup for unknown subjects
var ErrProfileNotFound = errors.New("profile not found")

// Profile is the identity metadata stored for a provider subject
type Profile struct {
	ID       string
	Email    string
	FullName string
	Role     Role
}

// ProfileLookup finds and provisions profiles for identity provider subjects
type ProfileLookup interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
	EnsureProfile(ctx context.Context, profile *Profile) (*Profile, error)
}

// OIDCConfig configures the identity provider
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// idClaims are the ID token claims opsdesk reads
type idClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// OIDCResolver resolves sessions from identity provider ID tokens. The role
// comes from the token's "role" claim, else from the stored profile.
type OIDCResolver struct {
	verifier   *oidc.IDTokenVerifier
	profiles   ProfileLookup
	policy     *Policy
	cookieName string
}

// NewOIDCResolver creates a resolver around an ID token verifier
func NewOIDCResolver(verifier *oidc.IDTokenVerifier, profiles ProfileLookup, policy *Policy, cookieName string) *OIDCResolver {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &OIDCResolver{verifier: verifier, profiles: profiles, policy: policy, cookieName: cookieName}
}

// Resolve implements SessionResolver
func (or *OIDCResolver) Resolve(ctx context.Context, r *http.Request) (*User, error) {
	raw, ok := Credential(r, or.cookieName)
	if !ok {
		return nil, nil
	}
	if raw == "" {
		return nil, ErrInvalidSession
	}

	idToken, err := or.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	role, ok := ParseRole(claims.Role)
	if !ok {
		if or.profiles == nil {
			return nil, fmt.Errorf("%w: token carries no role", ErrInvalidSession)
		}
		profile, err := or.profiles.GetProfile(ctx, idToken.Subject)
		if errors.Is(err, ErrProfileNotFound) {
			return nil, fmt.Errorf("%w: no profile for subject", ErrInvalidSession)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
		role = profile.Role
		if claims.Email == "" {
			claims.Email = profile.Email
		}
	}
	if !or.policy.KnowsRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidSession, role)
	}

	return &User{
		ID:          idToken.Subject,
		Email:       claims.Email,
		Role:        role,
		Permissions: or.policy.PermissionsFor(role),
	}, nil
}

// OIDCLogin drives the authorization-code flow and exchanges the provider's
// ID token for an opsdesk session token.
type OIDCLogin struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	profiles     ProfileLookup
	issuer       *TokenIssuer
}

// NewOIDCProvider discovers the identity provider and returns its verifier
// and a login helper
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, profiles ProfileLookup, issuer *TokenIssuer) (*oidc.IDTokenVerifier, *OIDCLogin, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, nil, fmt.Errorf("OIDC issuer and client ID are required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	login := NewOIDCLogin(&oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}, verifier, profiles, issuer)

	return verifier, login, nil
}

// NewOIDCLogin creates a login helper from explicit parts
func NewOIDCLogin(cfg *oauth2.Config, verifier *oidc.IDTokenVerifier, profiles ProfileLookup, issuer *TokenIssuer) *OIDCLogin {
	return &OIDCLogin{oauth2Config: cfg, verifier: verifier, profiles: profiles, issuer: issuer}
}

// NewState returns a random state value for the authorization request
func NewState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthCodeURL returns the provider URL the browser is redirected to
func (l *OIDCLogin) AuthCodeURL(state string) string {
	return l.oauth2Config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a session token. First-time
// subjects are provisioned as clients.
func (l *OIDCLogin) Exchange(ctx context.Context, code string) (string, *User, error) {
	if code == "" {
		return "", nil, fmt.Errorf("missing authorization code")
	}

	token, err := l.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return "", nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := l.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return "", nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" {
		return "", nil, fmt.Errorf("missing email in ID token")
	}

	profile, err := l.profiles.EnsureProfile(ctx, &Profile{
		ID:       idToken.Subject,
		Email:    claims.Email,
		FullName: claims.Name,
		Role:     RoleClient,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to provision profile: %w", err)
	}

	user := &User{ID: profile.ID, Email: profile.Email, Role: profile.Role}
	session, err := l.issuer.Issue(user)
	if err != nil {
		return "", nil, err
	}
	return session, user, nil
}
