package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy maps each role to its permission set. A Policy is built once at
// start-up and never changes; every accessor returns a copy.
type Policy struct {
	roles map[Role][]Permission
	known map[Permission]struct{}
}

// NewPolicy validates table and returns an immutable policy. Every known role
// must map to a non-empty set of well-formed permissions.
func NewPolicy(table map[Role][]Permission) (*Policy, error) {
	p := &Policy{
		roles: make(map[Role][]Permission, len(table)),
		known: make(map[Permission]struct{}),
	}

	for role, perms := range table {
		if !role.Valid() {
			return nil, fmt.Errorf("unknown role %q", role)
		}
		for _, perm := range perms {
			if !perm.WellFormed() {
				return nil, fmt.Errorf("role %s: malformed permission %q", role, perm)
			}
		}
		normalized := normalizePermissions(perms)
		if len(normalized) == 0 {
			return nil, fmt.Errorf("role %s has no permissions", role)
		}
		p.roles[role] = normalized
		for _, perm := range normalized {
			p.known[perm] = struct{}{}
		}
	}

	for _, role := range Roles {
		if _, ok := p.roles[role]; !ok {
			return nil, fmt.Errorf("role %s is missing from policy", role)
		}
	}

	return p, nil
}

// DefaultPolicy returns the built-in role table
func DefaultPolicy() *Policy {
	manager := make([]Permission, 0, len(AllPermissions))
	for _, perm := range AllPermissions {
		if perm == PermEmployeesDelete || perm == PermProjectsDelete {
			continue
		}
		manager = append(manager, perm)
	}

	p, err := NewPolicy(map[Role][]Permission{
		RoleAdmin:   AllPermissions,
		RoleManager: manager,
		RoleEmployee: {
			PermProjectsRead,
			PermTasksRead, PermTasksWrite,
			PermCommentsRead, PermCommentsWrite,
			PermAttachmentsRead, PermAttachmentsWrite,
			PermDashboardRead,
		},
		RoleClient: {
			PermProjectsRead,
			PermSubmissionsRead, PermSubmissionsWrite,
			PermCommentsRead, PermCommentsWrite,
			PermAttachmentsRead,
			PermDashboardRead,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("invalid default policy: %v", err))
	}
	return p
}

// PermissionsFor returns a copy of the permissions granted to role
func (p *Policy) PermissionsFor(role Role) []Permission {
	perms := p.roles[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// KnowsRole reports whether role has an entry in the policy
func (p *Policy) KnowsRole(role Role) bool {
	_, ok := p.roles[role]
	return ok
}

// KnowsPermission reports whether any role is granted perm
func (p *Policy) KnowsPermission(perm Permission) bool {
	_, ok := p.known[perm]
	return ok
}

// Grant computes the effective permissions for a caller: the role's set plus
// any extra permissions the policy knows about. Unknown extras are dropped.
func (p *Policy) Grant(role Role, extra []Permission) []Permission {
	perms := p.PermissionsFor(role)
	for _, perm := range extra {
		if p.KnowsPermission(perm) {
			perms = append(perms, perm)
		}
	}
	return normalizePermissions(perms)
}

// Table returns a copy of the full role table
func (p *Policy) Table() map[Role][]Permission {
	out := make(map[Role][]Permission, len(p.roles))
	for role := range p.roles {
		out[role] = p.PermissionsFor(role)
	}
	return out
}

// policyFile is the YAML shape accepted by LoadPolicyFile:
//
//	roles:
//	  admin: [employees:read, ...]
//	  client: [projects:read]
type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// ParsePolicy builds a policy from YAML
func ParsePolicy(data []byte) (*Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	table := make(map[Role][]Permission, len(file.Roles))
	for name, perms := range file.Roles {
		role, ok := ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", name)
		}
		for _, perm := range perms {
			table[role] = append(table[role], Permission(perm))
		}
	}

	return NewPolicy(table)
}

// LoadPolicyFile reads a YAML policy from path
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}
