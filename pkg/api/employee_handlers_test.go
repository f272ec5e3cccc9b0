package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

func seedEmployee(t *testing.T, h *harness, email string) *storage.Employee {
	t.Helper()
	e := &storage.Employee{FirstName: "Dana", LastName: "Reyes", Email: email, Status: "active"}
	require.NoError(t, h.store.Employees.Create(context.Background(), e))
	return e
}

func TestEmployees_Create(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.token(auth.RoleAdmin)

	rec := h.do(http.MethodPost, "/api/employees", admin, map[string]interface{}{
		"first_name": "Dana",
		"last_name":  "Reyes",
		"email":      "dana@example.com",
		"hire_date":  "2024-02-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var e storage.Employee
	data(t, rec, &e)
	assert.Equal(t, "dana@example.com", e.Email)
	assert.Equal(t, "2024-02-01", e.HireDate.String())

	entries := h.store.ActivityEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "employee.created", entries[0].Action)
}

func TestEmployees_CreateValidation(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.token(auth.RoleAdmin)

	tests := []struct {
		name   string
		body   interface{}
		fields []string
	}{
		{"missing names", map[string]string{"email": "x@example.com"}, []string{"first_name", "last_name"}},
		{"bad email", map[string]string{"first_name": "a", "last_name": "b", "email": "nope"}, []string{"email"}},
		{"bad status", map[string]string{"first_name": "a", "last_name": "b", "email": "a@b.c", "status": "gone"}, []string{"status"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/employees", admin, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			details := errorOf(t, rec).Details
			for _, f := range tt.fields {
				assert.Contains(t, details, f)
			}
		})
	}

	rec := h.do(http.MethodPost, "/api/employees", admin, `{"first_name":"a","last_name":"b","email":"a@b.c","hire_date":"01/02/2024"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmployees_DuplicateEmail(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.token(auth.RoleAdmin)
	seedEmployee(t, h, "dana@example.com")

	rec := h.do(http.MethodPost, "/api/employees", admin, map[string]string{
		"first_name": "D", "last_name": "R", "email": "dana@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "employee already exists", errorOf(t, rec).Error)
}

func TestEmployees_Gates(t *testing.T) {
	h := newHarness(t)
	e := seedEmployee(t, h, "dana@example.com")
	path := "/api/employees/" + e.ID.String()

	admin, _ := h.token(auth.RoleAdmin)
	manager, _ := h.token(auth.RoleManager)
	employee, _ := h.token(auth.RoleEmployee)
	privileged, _ := h.token(auth.RoleEmployee, auth.PermEmployeesWrite, auth.PermEmployeesRead)
	client, _ := h.token(auth.RoleClient)

	tests := []struct {
		name   string
		method string
		token  string
		body   interface{}
		want   int
	}{
		{"admin reads", http.MethodGet, admin, nil, http.StatusOK},
		{"manager reads", http.MethodGet, manager, nil, http.StatusOK},
		{"employee cannot read", http.MethodGet, employee, nil, http.StatusForbidden},
		{"client cannot read", http.MethodGet, client, nil, http.StatusForbidden},
		{"manager patches", http.MethodPatch, manager, map[string]string{"position": "Lead"}, http.StatusOK},
		{"employee with granted permission still cannot patch", http.MethodPatch, privileged, map[string]string{"position": "CEO"}, http.StatusForbidden},
		{"manager cannot delete", http.MethodDelete, manager, nil, http.StatusForbidden},
		{"admin deletes", http.MethodDelete, admin, nil, http.StatusNoContent},
		{"deleted is gone", http.MethodGet, admin, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(tt.method, path, tt.token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestEmployees_Update(t *testing.T) {
	h := newHarness(t)
	e := seedEmployee(t, h, "dana@example.com")
	admin, _ := h.token(auth.RoleAdmin)
	path := "/api/employees/" + e.ID.String()

	rec := h.do(http.MethodPatch, path, admin, map[string]string{"status": "on_leave", "department": "Ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated storage.Employee
	data(t, rec, &updated)
	assert.Equal(t, "on_leave", updated.Status)
	assert.Equal(t, "Ops", updated.Department)
	assert.Equal(t, "Dana", updated.FirstName)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, path, admin, map[string]string{"first_name": " "}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, path, admin, map[string]string{"status": "gone"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, "/api/employees/not-a-uuid", admin, map[string]string{}).Code)
}

func TestEmployees_Me(t *testing.T) {
	h := newHarness(t)
	token, uid := h.token(auth.RoleEmployee)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/employees/me", token, nil).Code)

	e := &storage.Employee{UserID: &uid, FirstName: "Sam", LastName: "Lee", Email: "sam@example.com", Status: "active"}
	require.NoError(t, h.store.Employees.Create(context.Background(), e))

	rec := h.do(http.MethodGet, "/api/employees/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me storage.Employee
	data(t, rec, &me)
	assert.Equal(t, e.ID, me.ID)
}

func TestEmployees_ListFilters(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.token(auth.RoleAdmin)
	seedEmployee(t, h, "a@example.com")
	inactive := seedEmployee(t, h, "b@example.com")
	status := "inactive"
	_, err := h.store.Employees.Update(context.Background(), inactive.ID, storage.EmployeePatch{Status: &status})
	require.NoError(t, err)

	var list []storage.Employee
	data(t, h.do(http.MethodGet, "/api/employees?status=inactive", admin, nil), &list)
	require.Len(t, list, 1)
	assert.Equal(t, inactive.ID, list[0].ID)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/employees?limit=500", admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/employees?status=gone", admin, nil).Code)
}
