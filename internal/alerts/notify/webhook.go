package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	webhookUserAgent      = "swapstation-ops-notifier"
	maxErrorBody          = 512
)

// Channel delivers rendered alert text to operators.
type Channel interface {
	Send(ctx context.Context, content string) error
}

// chatMessage is the text message shape accepted by DingTalk/WeCom style
// group robots.
type chatMessage struct {
	MsgType string   `json:"msgtype"`
	Text    chatText `json:"text"`
}

type chatText struct {
	Content string `json:"content"`
}

// DeliveryError reports a webhook that answered outside 2xx.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook: status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook: status %d: %s", e.StatusCode, e.Body)
}

// WebhookChannel posts alert text to an operator chat room.
type WebhookChannel struct {
	endpoint string
	client   *http.Client
	headers  http.Header
}

// WebhookOption configures a WebhookChannel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithTimeout bounds each delivery.
func WithTimeout(timeout time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if timeout > 0 {
			ch.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithHeader adds a header to every delivery, e.g. a robot access token.
func WithHeader(key, value string) WebhookOption {
	return func(ch *WebhookChannel) {
		if key != "" {
			ch.headers.Set(key, value)
		}
	}
}

// NewWebhookChannel builds a channel for the given robot endpoint.
func NewWebhookChannel(endpoint string, opts ...WebhookOption) (*WebhookChannel, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	ch := &WebhookChannel{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		headers:  make(http.Header),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Send posts content as a chat text message. A non-2xx answer is returned as
// *DeliveryError carrying the start of the response body.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	if w == nil {
		return errors.New("webhook: nil channel")
	}
	payload, err := json.Marshal(chatMessage{MsgType: "text", Text: chatText{Content: content}})
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	for key, values := range w.headers {
		req.Header[key] = values
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return nil
}
