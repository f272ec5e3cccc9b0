package auth

import (
	"sort"
	"strings"
)

// Role is the coarse classification of a caller
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
	RoleClient   Role = "client"
)

// Roles lists every role in privilege order
var Roles = []Role{RoleAdmin, RoleManager, RoleEmployee, RoleClient}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee, RoleClient:
		return true
	}
	return false
}

// ParseRole normalizes and validates a role name
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Unrestricted reports whether the role bypasses ownership narrowing
func (r Role) Unrestricted() bool {
	return r == RoleAdmin || r == RoleManager
}

// Permission is a "<resource>:<action>" capability string
type Permission string

const (
	PermEmployeesRead   Permission = "employees:read"
	PermEmployeesWrite  Permission = "employees:write"
	PermEmployeesDelete Permission = "employees:delete"

	PermProjectsRead   Permission = "projects:read"
	PermProjectsWrite  Permission = "projects:write"
	PermProjectsDelete Permission = "projects:delete"

	PermTasksRead   Permission = "tasks:read"
	PermTasksWrite  Permission = "tasks:write"
	PermTasksDelete Permission = "tasks:delete"

	PermSubmissionsRead    Permission = "submissions:read"
	PermSubmissionsWrite   Permission = "submissions:write"
	PermSubmissionsApprove Permission = "submissions:approve"

	PermJobsRead          Permission = "jobs:read"
	PermJobsWrite         Permission = "jobs:write"
	PermApplicationsRead  Permission = "applications:read"
	PermApplicationsWrite Permission = "applications:write"

	PermCommentsRead     Permission = "comments:read"
	PermCommentsWrite    Permission = "comments:write"
	PermAttachmentsRead  Permission = "attachments:read"
	PermAttachmentsWrite Permission = "attachments:write"

	PermContactsRead  Permission = "contacts:read"
	PermContactsWrite Permission = "contacts:write"

	PermInboxRead  Permission = "inbox:read"
	PermInboxWrite Permission = "inbox:write"
	PermInboxSend  Permission = "inbox:send"

	PermDashboardRead Permission = "dashboard:read"
	PermActivityRead  Permission = "activity:read"
)

// AllPermissions is the full permission catalogue
var AllPermissions = []Permission{
	PermEmployeesRead, PermEmployeesWrite, PermEmployeesDelete,
	PermProjectsRead, PermProjectsWrite, PermProjectsDelete,
	PermTasksRead, PermTasksWrite, PermTasksDelete,
	PermSubmissionsRead, PermSubmissionsWrite, PermSubmissionsApprove,
	PermJobsRead, PermJobsWrite,
	PermApplicationsRead, PermApplicationsWrite,
	PermCommentsRead, PermCommentsWrite,
	PermAttachmentsRead, PermAttachmentsWrite,
	PermContactsRead, PermContactsWrite,
	PermInboxRead, PermInboxWrite, PermInboxSend,
	PermDashboardRead, PermActivityRead,
}

// WellFormed reports whether p has the "<resource>:<action>" shape
func (p Permission) WellFormed() bool {
	resource, action, ok := strings.Cut(string(p), ":")
	if !ok || resource == "" || action == "" {
		return false
	}
	return !strings.ContainsAny(string(p), " \t\n") && !strings.Contains(action, ":")
}

// User is the authenticated caller for one request. It is built by a session
// resolver and never mutated afterwards.
type User struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

// Has reports whether the user holds p
func (u *User) Has(p Permission) bool {
	if u == nil {
		return false
	}
	for _, held := range u.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

// HasAny reports whether the user holds at least one of perms
func (u *User) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if u.Has(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether the user holds every one of perms
func (u *User) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !u.Has(p) {
			return false
		}
	}
	return true
}

// InRoles reports whether the user's role is one of roles
func (u *User) InRoles(roles ...Role) bool {
	if u == nil {
		return false
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// normalizePermissions sorts and de-duplicates perms
func normalizePermissions(perms []Permission) []Permission {
	seen := make(map[Permission]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
