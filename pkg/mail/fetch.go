package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ProviderMessage is a message as the mail provider API returns it
type ProviderMessage struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
	InReplyTo  *string   `json:"in_reply_to,omitempty"`
}

// Fetcher lists messages delivered to a mailbox
type Fetcher interface {
	Fetch(ctx context.Context, mailbox string, since *time.Time) ([]ProviderMessage, error)
}

// HTTPFetcher reads mail from the provider's JSON API
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the API rooted at baseURL
func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type messagesResponse struct {
	Messages []ProviderMessage `json:"messages"`
}

// Fetch returns messages received after since, or all retained messages when
// since is nil
func (f *HTTPFetcher) Fetch(ctx context.Context, mailbox string, since *time.Time) ([]ProviderMessage, error) {
	q := url.Values{}
	q.Set("mailbox", mailbox)
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", mailbox, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mail provider returned %d for %s: %s", resp.StatusCode, mailbox, strings.TrimSpace(string(snippet)))
	}

	var body messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode messages for %s: %w", mailbox, err)
	}
	return body.Messages, nil
}
