package mail

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// ErrNotConfigured is returned when outbound mail has no transport
var ErrNotConfigured = errors.New("outbound mail is not configured")

const maxRecipients = 50

// SendRequest is the body of an outbound message
type SendRequest struct {
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	InReplyTo *string  `json:"in_reply_to"`
}

// Validate checks the request fields
func (r SendRequest) Validate() error {
	fields := httputil.FieldErrors{}
	switch {
	case len(r.To) == 0:
		fields.Add("to", "at least one recipient is required")
	case len(r.To) > maxRecipients:
		fields.Add("to", "too many recipients")
	default:
		for _, addr := range r.To {
			if strings.TrimSpace(addr) == "" || !strings.Contains(addr, "@") {
				fields.Add("to", "must contain valid email addresses")
				break
			}
		}
	}
	fields.Require("subject", r.Subject)
	fields.Require("body", r.Body)
	return fields.Err()
}

// Outbox sends mail and keeps a copy in the inbox
type Outbox struct {
	sender   Sender
	emails   storage.EmailStore
	from     string
	recorder *activity.Recorder
}

// NewOutbox creates an outbox. A nil sender makes every Send fail with
// ErrNotConfigured.
func NewOutbox(sender Sender, emails storage.EmailStore, from string, recorder *activity.Recorder) *Outbox {
	return &Outbox{sender: sender, emails: emails, from: from, recorder: recorder}
}

// Send delivers req and stores it as an outbound message
func (o *Outbox) Send(ctx context.Context, actorID uuid.UUID, req SendRequest) (*storage.Email, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if o.sender == nil {
		return nil, apierr.Upstream("mail.send", ErrNotConfigured)
	}

	to := make([]string, len(req.To))
	for i, addr := range req.To {
		to[i] = strings.TrimSpace(addr)
	}

	messageID, err := o.sender.Send(ctx, Message{
		To:        to,
		Subject:   req.Subject,
		Body:      req.Body,
		InReplyTo: req.InReplyTo,
	})
	if err != nil {
		return nil, apierr.Upstream("mail.send", err)
	}

	email := &storage.Email{
		ProviderID:  messageID,
		Mailbox:     o.from,
		FromAddress: o.from,
		ToAddresses: to,
		Subject:     req.Subject,
		BodyText:    req.Body,
		ReceivedAt:  time.Now().UTC(),
		IsRead:      true,
		Direction:   storage.EmailOutbound,
		InReplyTo:   req.InReplyTo,
	}
	if err := o.emails.Create(ctx, email); err != nil {
		// already delivered; the stored copy is what failed
		return nil, apierr.Upstream("emails.create", err)
	}

	o.recorder.Record(ctx, actorID.String(), activity.ActionEmailSent, "email", email.ID.String(), storage.JSONObject{
		"to":      strings.Join(to, ", "),
		"subject": req.Subject,
	})
	return email, nil
}
