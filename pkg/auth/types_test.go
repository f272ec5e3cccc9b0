package auth

import (
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
		ok    bool
	}{
		{"admin", RoleAdmin, true},
		{" Manager ", RoleManager, true},
		{"employee", RoleEmployee, true},
		{"client", RoleClient, true},
		{"superuser", Role("superuser"), false},
		{"", Role(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseRole(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseRole(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRole_Unrestricted(t *testing.T) {
	if !RoleAdmin.Unrestricted() || !RoleManager.Unrestricted() {
		t.Error("admin and manager should be unrestricted")
	}
	if RoleEmployee.Unrestricted() || RoleClient.Unrestricted() {
		t.Error("employee and client should be narrowed")
	}
}

func TestPermission_WellFormed(t *testing.T) {
	tests := []struct {
		perm Permission
		want bool
	}{
		{"projects:read", true},
		{"inbox:send", true},
		{"projects", false},
		{":read", false},
		{"projects:", false},
		{"projects:read:extra", false},
		{"projects: read", false},
	}

	for _, tt := range tests {
		if got := tt.perm.WellFormed(); got != tt.want {
			t.Errorf("Permission(%q).WellFormed() = %v, want %v", tt.perm, got, tt.want)
		}
	}
}

func TestAllPermissions_WellFormedAndUnique(t *testing.T) {
	seen := map[Permission]bool{}
	for _, p := range AllPermissions {
		if !p.WellFormed() {
			t.Errorf("catalogue permission %q is malformed", p)
		}
		if seen[p] {
			t.Errorf("catalogue permission %q is duplicated", p)
		}
		seen[p] = true
	}
}

func TestUser_PermissionChecks(t *testing.T) {
	user := &User{
		ID:          "u1",
		Role:        RoleEmployee,
		Permissions: []Permission{PermProjectsRead, PermTasksRead},
	}

	if !user.Has(PermProjectsRead) {
		t.Error("expected projects:read")
	}
	if !user.HasAny(PermEmployeesWrite, PermTasksRead) {
		t.Error("HasAny should match tasks:read")
	}
	if user.HasAny(PermEmployeesWrite, PermInboxSend) {
		t.Error("HasAny should not match")
	}
	if !user.HasAll(PermProjectsRead, PermTasksRead) {
		t.Error("HasAll should match both")
	}
	if user.HasAll(PermProjectsRead, PermTasksWrite) {
		t.Error("HasAll should fail when one is missing")
	}
	if !user.HasAll() {
		t.Error("HasAll of nothing is vacuously true")
	}
	if !user.InRoles(RoleAdmin, RoleEmployee) || user.InRoles(RoleAdmin) {
		t.Error("InRoles mismatch")
	}

	var nilUser *User
	if nilUser.Has(PermProjectsRead) || nilUser.InRoles(RoleAdmin) {
		t.Error("nil user holds nothing")
	}
}
