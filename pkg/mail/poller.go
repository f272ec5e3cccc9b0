package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/broadcast"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// Poll outcomes used as the metric label
const (
	statusNew       = "new"
	statusDuplicate = "duplicate"
	statusError     = "error"
)

const maxConcurrentMailboxes = 4

// MailboxResult summarizes one mailbox poll
type MailboxResult struct {
	Mailbox string `json:"mailbox"`
	Fetched int    `json:"fetched"`
	Stored  int    `json:"stored"`
	Error   string `json:"error,omitempty"`
}

// PollResult summarizes a poll across every mailbox
type PollResult struct {
	Mailboxes []MailboxResult `json:"mailboxes"`
	Fetched   int             `json:"fetched"`
	Stored    int             `json:"stored"`
}

// Poller copies new provider messages into the inbox
type Poller struct {
	fetcher   Fetcher
	emails    storage.EmailStore
	publisher broadcast.Publisher
	mailboxes []string
	metrics   *observability.Metrics

	// serializes overlapping polls (cron tick and a manual sync)
	mu sync.Mutex
}

// NewPoller creates a poller. publisher and metrics may be nil.
func NewPoller(fetcher Fetcher, emails storage.EmailStore, publisher broadcast.Publisher, mailboxes []string, metrics *observability.Metrics) *Poller {
	cleaned := make([]string, 0, len(mailboxes))
	for _, m := range mailboxes {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	return &Poller{
		fetcher:   fetcher,
		emails:    emails,
		publisher: publisher,
		mailboxes: cleaned,
		metrics:   metrics,
	}
}

// Mailboxes returns the polled mailboxes
func (p *Poller) Mailboxes() []string {
	return append([]string(nil), p.mailboxes...)
}

// Poll fetches every mailbox concurrently. A failing mailbox does not stop
// the others; its error is reported in the result and joined into the
// returned error.
func (p *Poller) Poll(ctx context.Context) (*PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]MailboxResult, len(p.mailboxes))
	errs := make([]error, len(p.mailboxes))

	var g errgroup.Group
	g.SetLimit(maxConcurrentMailboxes)
	for i, mailbox := range p.mailboxes {
		g.Go(func() error {
			res, err := p.pollMailbox(ctx, mailbox)
			if err != nil {
				res.Error = err.Error()
				errs[i] = fmt.Errorf("mailbox %s: %w", mailbox, err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := &PollResult{Mailboxes: results}
	for _, r := range results {
		out.Fetched += r.Fetched
		out.Stored += r.Stored
	}
	return out, errors.Join(errs...)
}

func (p *Poller) pollMailbox(ctx context.Context, mailbox string) (MailboxResult, error) {
	res := MailboxResult{Mailbox: mailbox}
	logger := observability.FromContext(ctx).WithField("mailbox", mailbox)

	since, err := p.emails.LatestReceivedAt(ctx, mailbox)
	if err != nil {
		p.count(mailbox, statusError)
		return res, fmt.Errorf("failed to read poll cursor: %w", err)
	}

	msgs, err := p.fetcher.Fetch(ctx, mailbox, since)
	if err != nil {
		p.count(mailbox, statusError)
		return res, err
	}
	res.Fetched = len(msgs)
	undatedAt := highWater(since, msgs)

	for _, msg := range msgs {
		if strings.TrimSpace(msg.ID) == "" {
			logger.Warn("Skipping provider message without id")
			p.count(mailbox, statusError)
			continue
		}
		if msg.ReceivedAt.IsZero() && undatedAt.IsZero() {
			logger.WithField("provider_id", msg.ID).Warn("Skipping undated provider message, mailbox has no cursor yet")
			p.count(mailbox, statusError)
			continue
		}

		email := toEmail(mailbox, msg, undatedAt)
		inserted, err := p.emails.Upsert(ctx, email)
		if err != nil {
			p.count(mailbox, statusError)
			return res, fmt.Errorf("failed to store message %s: %w", msg.ID, err)
		}
		if !inserted {
			p.count(mailbox, statusDuplicate)
			continue
		}

		res.Stored++
		p.count(mailbox, statusNew)
		p.announce(ctx, email)
	}

	if res.Stored > 0 {
		logger.WithField("stored", res.Stored).Info("Inbox messages received")
	}
	return res, nil
}

// inboxNotice is the broadcast payload for a new message; bodies stay out
// of it so it always fits a notification
type inboxNotice struct {
	ID          uuid.UUID `json:"id"`
	Mailbox     string    `json:"mailbox"`
	FromAddress string    `json:"from_address"`
	Subject     string    `json:"subject"`
	ReceivedAt  time.Time `json:"received_at"`
}

func (p *Poller) announce(ctx context.Context, email *storage.Email) {
	if p.publisher == nil {
		return
	}
	activity.BestEffort(ctx, p.metrics, activity.KindBroadcast, func(ctx context.Context) error {
		subject := email.Subject
		if len(subject) > 200 {
			subject = subject[:200]
		}
		evt, err := broadcast.NewEvent(broadcast.ChannelInbox, broadcast.TypeInboxReceived, inboxNotice{
			ID:          email.ID,
			Mailbox:     email.Mailbox,
			FromAddress: email.FromAddress,
			Subject:     subject,
			ReceivedAt:  email.ReceivedAt,
		})
		if err != nil {
			return err
		}
		return p.publisher.Publish(ctx, evt)
	})
}

func (p *Poller) count(mailbox, status string) {
	if p.metrics != nil {
		p.metrics.InboxPolledTotal.WithLabelValues(mailbox, status).Inc()
	}
}

// highWater is the newest receive time known for a batch: the cursor or the
// latest dated message. Undated messages are stamped with it so storing them
// never moves the cursor past what the provider reported.
func highWater(since *time.Time, msgs []ProviderMessage) time.Time {
	var latest time.Time
	if since != nil {
		latest = *since
	}
	for _, msg := range msgs {
		if msg.ReceivedAt.After(latest) {
			latest = msg.ReceivedAt
		}
	}
	return latest
}

func toEmail(mailbox string, msg ProviderMessage, undatedAt time.Time) *storage.Email {
	received := msg.ReceivedAt
	if received.IsZero() {
		received = undatedAt
	}
	to := msg.To
	if to == nil {
		to = []string{}
	}
	return &storage.Email{
		ProviderID:  msg.ID,
		Mailbox:     mailbox,
		FromAddress: msg.From,
		ToAddresses: to,
		Subject:     msg.Subject,
		BodyText:    msg.Text,
		ReceivedAt:  received.UTC(),
		Direction:   storage.EmailInbound,
		InReplyTo:   msg.InReplyTo,
	}
}
