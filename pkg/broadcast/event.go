package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
)

// Channels events are grouped under
const (
	ChannelSubmissions = "submissions"
	ChannelInbox       = "inbox"
)

// Event types
const (
	TypeSubmissionApproved = "submission.approved"
	TypeSubmissionRejected = "submission.rejected"
	TypeInboxReceived      = "inbox.received"
	TypeWebhookReceived    = "webhook.received"
)

// Event is one broadcast message
type Event struct {
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	At      time.Time       `json:"at"`
}

// NewEvent marshals data into a new event
func NewEvent(channel, eventType string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return Event{
		ID:      ulid.Make().String(),
		Channel: channel,
		Type:    eventType,
		Data:    raw,
		At:      time.Now().UTC(),
	}, nil
}

// Publisher delivers events to subscribers
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// WriteSSE writes evt as a server-sent event frame
func WriteSSE(w io.Writer, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, payload)
	return err
}
