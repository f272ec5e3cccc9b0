package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims carried by an opsdesk session token
type SessionClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// TokenIssuer mints HS256 session tokens
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl}
}

// TTL returns the session lifetime
func (ti *TokenIssuer) TTL() time.Duration {
	return ti.ttl
}

// Issue signs a token for user. Only the role and any extra permissions are
// embedded; the role's policy permissions are recomputed on every request.
func (ti *TokenIssuer) Issue(user *User, extra ...Permission) (string, error) {
	return IssueToken(ti.secret, ti.issuer, user, ti.ttl, extra...)
}

// IssueToken creates a signed HS256 session token
func IssueToken(secret []byte, issuer string, user *User, ttl time.Duration, extra ...Permission) (string, error) {
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if !user.Role.Valid() {
		return "", fmt.Errorf("invalid role %q", user.Role)
	}

	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: user.Email,
		Role:  string(user.Role),
	}
	for _, perm := range extra {
		claims.Permissions = append(claims.Permissions, string(perm))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an HS256 session token and returns its claims
func ParseToken(tokenStr string, secret []byte, issuer string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	return claims, nil
}

// JWTResolver resolves sessions from HS256 tokens
type JWTResolver struct {
	secret     []byte
	issuer     string
	cookieName string
	policy     *Policy
}

// NewJWTResolver creates a resolver that grants permissions from policy
func NewJWTResolver(secret []byte, issuer, cookieName string, policy *Policy) *JWTResolver {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &JWTResolver{secret: secret, issuer: issuer, cookieName: cookieName, policy: policy}
}

// Resolve implements SessionResolver
func (jr *JWTResolver) Resolve(ctx context.Context, r *http.Request) (*User, error) {
	token, ok := Credential(r, jr.cookieName)
	if !ok {
		return nil, nil
	}
	if token == "" {
		return nil, ErrInvalidSession
	}

	claims, err := ParseToken(token, jr.secret, jr.issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}

	role, ok := ParseRole(claims.Role)
	if !ok || !jr.policy.KnowsRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidSession, claims.Role)
	}

	extra := make([]Permission, 0, len(claims.Permissions))
	for _, p := range claims.Permissions {
		extra = append(extra, Permission(p))
	}

	return &User{
		ID:          claims.Subject,
		Email:       claims.Email,
		Role:        role,
		Permissions: jr.policy.Grant(role, extra),
	}, nil
}
