package auth

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	admin := p.PermissionsFor(RoleAdmin)
	assert.Len(t, admin, len(AllPermissions))

	manager := p.PermissionsFor(RoleManager)
	assert.Len(t, manager, len(AllPermissions)-2)
	assert.NotContains(t, manager, PermEmployeesDelete)
	assert.NotContains(t, manager, PermProjectsDelete)
	assert.Contains(t, manager, PermSubmissionsApprove)

	employee := p.PermissionsFor(RoleEmployee)
	assert.Contains(t, employee, PermTasksWrite)
	assert.NotContains(t, employee, PermEmployeesWrite)
	assert.NotContains(t, employee, PermProjectsWrite)

	client := p.PermissionsFor(RoleClient)
	assert.Contains(t, client, PermSubmissionsWrite)
	assert.NotContains(t, client, PermTasksRead)

	for _, role := range Roles {
		perms := p.PermissionsFor(role)
		assert.True(t, sort.SliceIsSorted(perms, func(i, j int) bool { return perms[i] < perms[j] }), "role %s not sorted", role)
	}
}

func TestPolicy_ReturnsCopies(t *testing.T) {
	p := DefaultPolicy()

	perms := p.PermissionsFor(RoleClient)
	perms[0] = "employees:delete"

	assert.NotContains(t, p.PermissionsFor(RoleClient), PermEmployeesDelete)

	table := p.Table()
	table[RoleClient] = nil
	assert.NotEmpty(t, p.PermissionsFor(RoleClient))
}

func TestNewPolicy_Validation(t *testing.T) {
	full := func() map[Role][]Permission {
		return map[Role][]Permission{
			RoleAdmin:    {PermEmployeesRead},
			RoleManager:  {PermEmployeesRead},
			RoleEmployee: {PermProjectsRead},
			RoleClient:   {PermProjectsRead},
		}
	}

	tests := []struct {
		name    string
		mutate  func(map[Role][]Permission)
		wantErr string
	}{
		{name: "valid", mutate: func(m map[Role][]Permission) {}},
		{name: "empty role", mutate: func(m map[Role][]Permission) { m[RoleClient] = nil }, wantErr: "no permissions"},
		{name: "missing role", mutate: func(m map[Role][]Permission) { delete(m, RoleManager) }, wantErr: "missing"},
		{name: "unknown role", mutate: func(m map[Role][]Permission) { m["owner"] = []Permission{PermProjectsRead} }, wantErr: "unknown role"},
		{name: "malformed permission", mutate: func(m map[Role][]Permission) { m[RoleAdmin] = []Permission{"everything"} }, wantErr: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := full()
			tt.mutate(table)
			_, err := NewPolicy(table)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewPolicy_Deduplicates(t *testing.T) {
	p, err := NewPolicy(map[Role][]Permission{
		RoleAdmin:    {PermTasksWrite, PermTasksRead, PermTasksWrite},
		RoleManager:  {PermTasksRead},
		RoleEmployee: {PermTasksRead},
		RoleClient:   {PermProjectsRead},
	})
	require.NoError(t, err)

	assert.Equal(t, []Permission{PermTasksRead, PermTasksWrite}, p.PermissionsFor(RoleAdmin))
}

func TestPolicy_Grant(t *testing.T) {
	p := DefaultPolicy()

	perms := p.Grant(RoleEmployee, []Permission{PermInboxRead, "made:up", PermTasksRead})

	assert.Contains(t, perms, PermInboxRead)
	assert.NotContains(t, perms, Permission("made:up"))
	assert.Len(t, perms, len(p.PermissionsFor(RoleEmployee))+1)
	assert.True(t, p.KnowsPermission(PermInboxSend))
	assert.False(t, p.KnowsRole("owner"))
}

func TestParsePolicy(t *testing.T) {
	data := []byte(`
roles:
  admin: [employees:read, employees:write]
  manager: [employees:read]
  employee: [projects:read]
  client: [projects:read, submissions:write]
`)

	p, err := ParsePolicy(data)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermProjectsRead, PermSubmissionsWrite}, p.PermissionsFor(RoleClient))

	_, err = ParsePolicy([]byte("roles:\n  wizard: [projects:read]\n"))
	assert.Error(t, err)

	_, err = ParsePolicy([]byte("roles: [unclosed"))
	assert.Error(t, err)
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roles:
  admin: [employees:delete]
  manager: [employees:read]
  employee: [tasks:read]
  client: [projects:read]
`), 0o600))

	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermEmployeesDelete}, p.PermissionsFor(RoleAdmin))

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
