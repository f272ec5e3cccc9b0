package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

func TestContacts_PublicSubmit(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/contact", "", map[string]string{
		"name":    " Grace ",
		"email":   "grace@example.com",
		"message": "Need a quote for a refit",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var contact storage.ContactSubmission
	data(t, rec, &contact)
	assert.Equal(t, "Grace", contact.Name)
	assert.Equal(t, "new", contact.Status)

	entries := h.store.ActivityEntries()
	require.NotEmpty(t, entries)
	assert.Equal(t, activity.ActionContactCreated, entries[len(entries)-1].Action)

	rec = h.do(http.MethodPost, "/api/contact", "", map[string]string{"email": "bad"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := errorOf(t, rec).Details
	for _, field := range []string{"name", "email", "message"} {
		assert.Contains(t, details, field)
	}
}

func TestContacts_Manage(t *testing.T) {
	h := newHarness(t)
	manager, _ := h.token(auth.RoleManager)
	admin, _ := h.token(auth.RoleAdmin)
	client, _ := h.token(auth.RoleClient)

	rec := h.do(http.MethodPost, "/api/contact", "", map[string]string{
		"name": "Grace", "email": "grace@example.com", "message": "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var contact storage.ContactSubmission
	data(t, rec, &contact)
	path := "/api/contacts/" + contact.ID.String()

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/contacts", client, nil).Code)

	rec = h.do(http.MethodPatch, path, manager, map[string]string{"status": "replied"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var replied []storage.ContactSubmission
	data(t, h.do(http.MethodGet, "/api/contacts?status=replied", manager, nil), &replied)
	assert.Len(t, replied, 1)
	data(t, h.do(http.MethodGet, "/api/contacts?status=new", manager, nil), &replied)
	assert.Empty(t, replied)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, path, manager, map[string]string{"status": "spam"}).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodDelete, path, manager, nil).Code)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, path, admin, nil).Code)
}
