// Package auth resolves request credentials into users and defines the role
// and permission model.
//
// # Roles and permissions
//
// Four roles exist: admin, manager, employee and client. Permissions are
// "<resource>:<action>" strings such as "projects:read". A Policy maps each role
// to its permission set; it is validated once at start-up and never mutated:
//
//	policy := auth.DefaultPolicy()
//	// or
//	policy, err := auth.LoadPolicyFile("/etc/opsdesk/policy.yaml")
//
// # Session resolution
//
// A SessionResolver reads the bearer token (or the opsdesk_session cookie) and
// returns the caller:
//
//	user, err := resolver.Resolve(ctx, r)
//	switch {
//	case errors.Is(err, auth.ErrInvalidSession): // 401
//	case err != nil:                             // 500
//	case user == nil:                            // anonymous, 401 on gated routes
//	}
//
// JWTResolver verifies opsdesk-issued HS256 tokens. OIDCResolver verifies
// identity provider ID tokens and falls back to the stored profile for the
// role. ChainResolver combines them.
//
// # Login
//
// OIDCLogin runs the authorization-code flow and mints an opsdesk session
// token with IssueToken. First-time subjects are provisioned as clients.
package auth
