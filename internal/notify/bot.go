package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Bot is an outbound chat transport the dispatcher sends a formatted
// message to. Concrete bots wrap whatever webhook API a given chat
// platform exposes; the dispatcher itself never speaks HTTP directly.
type Bot interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// RetryAfterError lets a Bot surface a transport-level "retry after N"
// signal (e.g. an HTTP 429's Retry-After header) so the dispatcher's
// backoff honours it instead of guessing.
type RetryAfterError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }
func (e *RetryAfterError) Unwrap() error  { return e.Err }

// ConnectTimeout and ReadTimeout are the outbound deadlines for the
// notification transport: 10s to establish the connection, 30s to read
// the response.
const (
	ConnectTimeout = 10 * time.Second
	ReadTimeout    = 30 * time.Second
)

// webhookBot posts a JSON payload to a single incoming-webhook URL, the
// shape every mainstream chat platform's simplest bot integration
// (Slack-compatible incoming webhooks, Discord, Telegram's sendMessage)
// accepts with only the field name varying.
type webhookBot struct {
	name       string
	url        string
	textField  string
	httpClient *http.Client
}

// NewWebhookBot builds a Bot that posts {textField: message} as JSON to
// url. textField defaults to "text" (Slack/Discord-compatible) when empty.
func NewWebhookBot(name, url, textField string, httpClient *http.Client) Bot {
	if textField == "" {
		textField = "text"
	}
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{Timeout: ConnectTimeout}).DialContext
		transport.ResponseHeaderTimeout = ReadTimeout
		httpClient = &http.Client{Timeout: ConnectTimeout + ReadTimeout, Transport: transport}
	}
	return &webhookBot{name: name, url: url, textField: textField, httpClient: httpClient}
}

func (b *webhookBot) Name() string { return b.name }

func (b *webhookBot) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{b.textField: message})
	if err != nil {
		return fmt.Errorf("notify: encoding payload for %s: %w", b.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: building request for %s: %w", b.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sending to %s: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
			return &RetryAfterError{
				Err:        fmt.Errorf("notify: %s rate limited (status %d)", b.name, resp.StatusCode),
				RetryAfter: retryAfter,
			}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: %s returned status %d", b.name, resp.StatusCode)
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
