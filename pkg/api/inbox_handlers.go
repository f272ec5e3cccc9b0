package api

import (
	"context"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/mail"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// InboxHandlers serves the shared inbox
type InboxHandlers struct {
	emails   storage.EmailStore
	outbox   *mail.Outbox
	poller   *mail.Poller
	recorder *activity.Recorder
}

// NewInboxHandlers creates inbox handlers. outbox and poller may be nil when
// mail is not configured.
func NewInboxHandlers(emails storage.EmailStore, outbox *mail.Outbox, poller *mail.Poller, recorder *activity.Recorder) *InboxHandlers {
	return &InboxHandlers{emails: emails, outbox: outbox, poller: poller, recorder: recorder}
}

// RegisterRoutes registers inbox routes
func (h *InboxHandlers) RegisterRoutes(router *mux.Router, gate *rbac.Gate) {
	read := rbac.Requirement{Permissions: []auth.Permission{auth.PermInboxRead}}
	write := rbac.Requirement{Permissions: []auth.Permission{auth.PermInboxWrite}}

	router.Handle("/api/inbox", gate.Wrap(read, h.list)).Methods("GET")
	router.Handle("/api/inbox/send", gate.Wrap(rbac.Requirement{
		Permissions: []auth.Permission{auth.PermInboxSend},
	}, h.send)).Methods("POST")
	router.Handle("/api/inbox/sync", gate.Wrap(write, h.sync)).Methods("POST")
	router.Handle("/api/inbox/{id}", gate.Wrap(read, h.get)).Methods("GET")
	router.Handle("/api/inbox/{id}", gate.Wrap(write, h.update)).Methods("PATCH")
}

func (h *InboxHandlers) list(ctx context.Context, call *rbac.Call) httputil.Result {
	r := call.Request
	page, err := pageOf(r)
	if err != nil {
		return httputil.Fail(err)
	}
	unread, err := httputil.ParseQueryBool(r, "unread", false)
	if err != nil {
		return httputil.Fail(err)
	}
	archived, err := httputil.ParseQueryBool(r, "archived", false)
	if err != nil {
		return httputil.Fail(err)
	}
	direction := httputil.ParseQueryString(r, "direction", "")
	fields := httputil.FieldErrors{}
	fields.OneOf("direction", direction, storage.EmailDirections...)
	if err := fields.Err(); err != nil {
		return httputil.Fail(err)
	}

	emails, err := h.emails.List(ctx, storage.EmailFilter{
		Mailbox:    httputil.ParseQueryString(r, "mailbox", ""),
		Direction:  direction,
		UnreadOnly: unread,
		Archived:   archived,
		Page:       page,
	})
	if err != nil {
		return httputil.Fail(apierr.Upstream("emails.list", err))
	}
	return httputil.OK(emails)
}

func (h *InboxHandlers) get(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	email, err := h.emails.Get(ctx, id)
	if err != nil {
		return httputil.Fail(storeErr("emails.get", "Email", err))
	}

	if !email.IsRead {
		read := true
		h.recorder.Do(ctx, activity.KindMarkRead, func(ctx context.Context) error {
			updated, err := h.emails.Update(ctx, id, storage.EmailPatch{IsRead: &read})
			if err != nil {
				return err
			}
			email = updated
			return nil
		})
	}
	return httputil.OK(email)
}

func (h *InboxHandlers) update(ctx context.Context, call *rbac.Call) httputil.Result {
	id, err := pathID(call, "id")
	if err != nil {
		return httputil.Fail(err)
	}
	var patch storage.EmailPatch
	if err := httputil.ParseJSON(call.Request, &patch); err != nil {
		return httputil.Fail(err)
	}
	if patch.IsRead == nil && patch.IsArchived == nil {
		return httputil.Fail(apierr.Validation("no fields to update"))
	}

	email, err := h.emails.Update(ctx, id, patch)
	if err != nil {
		return httputil.Fail(storeErr("emails.update", "Email", err))
	}
	return httputil.OK(email)
}

func (h *InboxHandlers) send(ctx context.Context, call *rbac.Call) httputil.Result {
	sender, err := actorID(call)
	if err != nil {
		return httputil.Fail(err)
	}
	var req mail.SendRequest
	if err := httputil.ParseJSON(call.Request, &req); err != nil {
		return httputil.Fail(err)
	}
	if h.outbox == nil {
		if err := req.Validate(); err != nil {
			return httputil.Fail(err)
		}
		return httputil.Fail(apierr.Upstream("mail.send", mail.ErrNotConfigured))
	}

	email, err := h.outbox.Send(ctx, sender, req)
	if err != nil {
		return httputil.Fail(err)
	}
	return httputil.Created(email)
}

// sync polls every mailbox now. Partial failures are reported per mailbox;
// the request only fails when no mailbox could be polled.
func (h *InboxHandlers) sync(ctx context.Context, call *rbac.Call) httputil.Result {
	if h.poller == nil {
		return httputil.Fail(apierr.Upstream("inbox.sync", mail.ErrNotConfigured))
	}

	result, err := h.poller.Poll(ctx)
	if err != nil && allFailed(result) {
		return httputil.Fail(apierr.Upstream("inbox.sync", err))
	}
	return httputil.OK(result)
}

func allFailed(result *mail.PollResult) bool {
	if result == nil {
		return true
	}
	for _, mb := range result.Mailboxes {
		if mb.Error == "" {
			return false
		}
	}
	return true
}
