package webhooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/platinummonkey/opsdesk/pkg/apierr"
	"github.com/platinummonkey/opsdesk/pkg/broadcast"
	"github.com/platinummonkey/opsdesk/pkg/httputil"
	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// DefaultMaxBodyBytes bounds the raw callback body. The encoded event must
// still fit broadcast.MaxPayloadBytes, which is checked after wrapping.
const DefaultMaxBodyBytes = 7900

const (
	outcomeAccepted     = "accepted"
	outcomeUnauthorized = "unauthorized"
	outcomeInvalid      = "invalid"
	outcomeFailed       = "failed"
)

var channelPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// Receiver accepts signed callbacks and publishes them as broadcast events
type Receiver struct {
	verifier  Verifier
	publisher broadcast.Publisher
	maxBytes  int64
	metrics   *observability.Metrics
}

// NewReceiver creates a receiver. maxBytes <= 0 uses DefaultMaxBodyBytes.
func NewReceiver(verifier Verifier, publisher broadcast.Publisher, maxBytes int64, metrics *observability.Metrics) *Receiver {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return &Receiver{
		verifier:  verifier,
		publisher: publisher,
		maxBytes:  maxBytes,
		metrics:   metrics,
	}
}

// RegisterRoutes registers the receiver route
func (rc *Receiver) RegisterRoutes(router *mux.Router) {
	router.Handle("/api/webhooks/{channel}", rc).Methods(http.MethodPost)
}

// Received is the accepted-callback response body
type Received struct {
	Received bool `json:"received"`
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	res, outcome := rc.receive(r, channel)
	if rc.metrics != nil {
		rc.metrics.WebhooksReceivedTotal.WithLabelValues(channelLabel(channel), outcome).Inc()
	}
	httputil.WriteResult(w, r, res)
}

func (rc *Receiver) receive(r *http.Request, channel string) (httputil.Result, string) {
	if !channelPattern.MatchString(channel) {
		return httputil.Fail(apierr.Validation("invalid webhook channel")), outcomeInvalid
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, rc.maxBytes+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return httputil.Fail(apierr.Validationf("payload exceeds %d bytes", rc.maxBytes)), outcomeInvalid
		}
		return httputil.Fail(apierr.Validation("failed to read payload")), outcomeInvalid
	}

	// authenticate before looking at the payload
	if err := rc.verifier.Verify(body, r.Header); err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("channel", channel).Warn("Rejected webhook")
		return httputil.Fail(apierr.Unauthenticated("invalid webhook signature")), outcomeUnauthorized
	}

	if int64(len(body)) > rc.maxBytes {
		return httputil.Fail(apierr.Validationf("payload exceeds %d bytes", rc.maxBytes)), outcomeInvalid
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return httputil.Fail(apierr.Validation("payload must be a JSON object")), outcomeInvalid
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return httputil.Fail(apierr.Validation("payload must be a JSON object")), outcomeInvalid
	}

	evt := broadcast.Event{
		ID:      ulid.Make().String(),
		Channel: channel,
		Type:    broadcast.TypeWebhookReceived,
		Data:    json.RawMessage(compact.Bytes()),
		At:      time.Now().UTC(),
	}
	// escaping and the event envelope grow the body; a notification that
	// does not fit would only reach this instance
	if encoded, err := json.Marshal(evt); err != nil || len(encoded) > broadcast.MaxPayloadBytes {
		return httputil.Fail(apierr.Validationf("event exceeds %d bytes once encoded", broadcast.MaxPayloadBytes)), outcomeInvalid
	}
	if err := rc.publisher.Publish(r.Context(), evt); err != nil {
		return httputil.Fail(apierr.Upstream("webhooks.publish", err)), outcomeFailed
	}

	observability.FromContext(r.Context()).WithField("channel", channel).WithField("event_id", evt.ID).Debug("Webhook accepted")
	return httputil.Accepted(Received{Received: true}), outcomeAccepted
}

// channelLabel bounds metric cardinality to well-formed channel names
func channelLabel(channel string) string {
	if channelPattern.MatchString(channel) {
		return channel
	}
	return "invalid"
}
