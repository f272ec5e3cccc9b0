package broadcast

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// NotifyChannel is the PostgreSQL channel events travel on
const NotifyChannel = "opsdesk_events"

// MaxPayloadBytes is the largest event pg_notify accepts
const MaxPayloadBytes = 7999

// PGRelay publishes events with pg_notify and relays notifications received
// on a dedicated LISTEN connection to the local hub, so every instance sees
// events published by any instance.
type PGRelay struct {
	db      *sql.DB
	dsn     string
	hub     *Hub
	channel string

	minBackoff time.Duration
	maxBackoff time.Duration

	// swapped in tests
	listenFunc func(ctx context.Context, ready func()) error
	afterFunc  func(d time.Duration) <-chan time.Time
}

// NewPGRelay creates a relay. With an empty listenDSN events go straight to
// the hub and Run only waits for ctx.
func NewPGRelay(db *sql.DB, listenDSN string, hub *Hub) *PGRelay {
	r := &PGRelay{
		db:         db,
		dsn:        listenDSN,
		hub:        hub,
		channel:    NotifyChannel,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		afterFunc:  time.After,
	}
	r.listenFunc = r.listen
	return r
}

var _ Publisher = (*PGRelay)(nil)

// Publish sends evt to every instance
func (r *PGRelay) Publish(ctx context.Context, evt Event) error {
	if r.dsn == "" || r.db == nil {
		return r.hub.Publish(ctx, evt)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if len(payload) > MaxPayloadBytes {
		// too large for NOTIFY; only this instance's subscribers see it
		observability.FromContext(ctx).WithField("event_id", evt.ID).WithField("bytes", len(payload)).
			Warn("event exceeds notification limit, delivering locally")
		return r.hub.Publish(ctx, evt)
	}

	if _, err := r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, r.channel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify %s: %w", r.channel, err)
	}
	return nil
}

// Run listens for notifications until ctx ends, reconnecting with backoff.
// The backoff restarts from its minimum once a connection reaches LISTEN.
func (r *PGRelay) Run(ctx context.Context) error {
	if r.dsn == "" {
		<-ctx.Done()
		return nil
	}

	logger := observability.FromContext(ctx).WithField("channel", r.channel)
	backoff := r.minBackoff

	for {
		err := r.listenFunc(ctx, func() { backoff = r.minBackoff })
		if ctx.Err() != nil {
			return nil
		}
		logger.WithError(err).WithField("backoff", backoff).Warn("event relay disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-r.afterFunc(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// listen holds one LISTEN connection open, calling ready once it is subscribed
func (r *PGRelay) listen(ctx context.Context, ready func()) error {
	conn, err := pgx.Connect(ctx, r.dsn)
	if err != nil {
		return fmt.Errorf("failed to connect listener: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{r.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.channel, err)
	}
	observability.FromContext(ctx).WithField("channel", r.channel).Info("event relay listening")
	ready()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("failed to wait for notification: %w", err)
		}
		r.relay(ctx, n.Payload)
	}
}

// relay decodes one notification payload and hands it to the hub
func (r *PGRelay) relay(ctx context.Context, payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("dropping malformed event notification")
		return
	}
	_ = r.hub.Publish(ctx, evt)
}
