package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/mail"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "<sent-1@opsdesk.test>", nil
}

type fakeFetcher struct {
	messages map[string][]mail.ProviderMessage
	failing  map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, mailbox string, since *time.Time) ([]mail.ProviderMessage, error) {
	if f.failing[mailbox] {
		return nil, errors.New("provider unavailable")
	}
	return f.messages[mailbox], nil
}

func seedEmail(t *testing.T, h *harness, subject string) *storage.Email {
	t.Helper()
	email := &storage.Email{
		Mailbox:     "info@opsdesk.test",
		FromAddress: "customer@example.com",
		Subject:     subject,
		ReceivedAt:  time.Now().UTC(),
		Direction:   storage.EmailInbound,
	}
	require.NoError(t, h.store.Emails.Create(context.Background(), email))
	return email
}

func TestInbox_GetMarksRead(t *testing.T) {
	h := newHarness(t)
	manager, _ := h.token(auth.RoleManager)
	email := seedEmail(t, h, "Quote request")

	var unread []storage.Email
	data(t, h.do(http.MethodGet, "/api/inbox?unread=true", manager, nil), &unread)
	require.Len(t, unread, 1)

	var got storage.Email
	data(t, h.do(http.MethodGet, "/api/inbox/"+email.ID.String(), manager, nil), &got)
	assert.True(t, got.IsRead)

	data(t, h.do(http.MethodGet, "/api/inbox?unread=true", manager, nil), &unread)
	assert.Empty(t, unread)
}

func TestInbox_Update(t *testing.T) {
	h := newHarness(t)
	manager, _ := h.token(auth.RoleManager)
	email := seedEmail(t, h, "Quote request")
	path := "/api/inbox/" + email.ID.String()

	rec := h.do(http.MethodPatch, path, manager, map[string]bool{"is_archived": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var archived []storage.Email
	data(t, h.do(http.MethodGet, "/api/inbox?archived=true", manager, nil), &archived)
	assert.Len(t, archived, 1)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, path, manager, map[string]bool{}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/inbox?direction=sideways", manager, nil).Code)
}

func TestInbox_Permissions(t *testing.T) {
	h := newHarness(t)
	employee, _ := h.token(auth.RoleEmployee)
	client, _ := h.token(auth.RoleClient)

	for _, tok := range []string{employee, client} {
		assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/inbox", tok, nil).Code)
		assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/inbox/send", tok, map[string]interface{}{}).Code)
	}
}

func TestInbox_Send(t *testing.T) {
	sender := &fakeSender{}
	h := newHarness(t, func(d *Deps) {
		d.Outbox = mail.NewOutbox(sender, d.Stores.Emails, "office@opsdesk.test", d.Recorder)
	})
	manager, _ := h.token(auth.RoleManager)

	rec := h.do(http.MethodPost, "/api/inbox/send", manager, map[string]interface{}{
		"to":      []string{" client@example.com "},
		"subject": "Your quote",
		"body":    "Attached.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var email storage.Email
	data(t, rec, &email)
	assert.Equal(t, storage.EmailOutbound, email.Direction)
	assert.Equal(t, []string{"client@example.com"}, email.ToAddresses)
	assert.Equal(t, "<sent-1@opsdesk.test>", email.ProviderID)
	assert.True(t, email.IsRead)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Your quote", sender.sent[0].Subject)

	rec = h.do(http.MethodPost, "/api/inbox/send", manager, map[string]interface{}{"to": []string{"nope"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := errorOf(t, rec).Details
	assert.Contains(t, details, "to")
	assert.Contains(t, details, "subject")

	sender.err = errors.New("relay refused")
	rec = h.do(http.MethodPost, "/api/inbox/send", manager, map[string]interface{}{
		"to": []string{"client@example.com"}, "subject": "s", "body": "b",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relay refused")
}

func TestInbox_SendWithoutOutbox(t *testing.T) {
	h := newHarness(t)
	manager, _ := h.token(auth.RoleManager)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/inbox/send", manager, map[string]interface{}{}).Code)
	assert.Equal(t, http.StatusInternalServerError, h.do(http.MethodPost, "/api/inbox/send", manager, map[string]interface{}{
		"to": []string{"client@example.com"}, "subject": "s", "body": "b",
	}).Code)
}

func TestInbox_Sync(t *testing.T) {
	fetcher := &fakeFetcher{
		messages: map[string][]mail.ProviderMessage{
			"info@opsdesk.test": {
				{ID: "m-1", From: "a@example.com", Subject: "Hello", ReceivedAt: time.Now().UTC()},
				{ID: "m-2", From: "b@example.com", Subject: "Again", ReceivedAt: time.Now().UTC()},
			},
		},
		failing: map[string]bool{"sales@opsdesk.test": true},
	}
	h := newHarness(t, func(d *Deps) {
		d.Poller = mail.NewPoller(fetcher, d.Stores.Emails, d.Hub, []string{"info@opsdesk.test", "sales@opsdesk.test"}, d.Metrics)
	})
	manager, _ := h.token(auth.RoleManager)

	rec := h.do(http.MethodPost, "/api/inbox/sync", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result mail.PollResult
	data(t, rec, &result)
	assert.Equal(t, 2, result.Stored)
	require.Len(t, result.Mailboxes, 2)
	assert.Empty(t, result.Mailboxes[0].Error)
	assert.NotEmpty(t, result.Mailboxes[1].Error)

	// a second sync stores nothing new
	data(t, h.do(http.MethodPost, "/api/inbox/sync", manager, nil), &result)
	assert.Equal(t, 0, result.Stored)

	fetcher.failing["info@opsdesk.test"] = true
	assert.Equal(t, http.StatusInternalServerError, h.do(http.MethodPost, "/api/inbox/sync", manager, nil).Code)
}

func TestInbox_SyncWithoutPoller(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.token(auth.RoleAdmin)
	assert.Equal(t, http.StatusInternalServerError, h.do(http.MethodPost, "/api/inbox/sync", admin, nil).Code)
}
