package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// webhookPayload is compatible with Discord and Slack incoming webhooks,
// both of which render the content field, and carries the raw values for
// other receivers.
type webhookPayload struct {
	Content string          `json:"content"`
	ID      string          `json:"id"`
	Account json.RawMessage `json:"account"`
}

// WebhookSink posts a JSON notification to an incoming-webhook URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink posting to url. A nil client uses a client
// with a 10 second timeout.
func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{url: url, client: client}
}

// Notify implements Sink.
func (w *WebhookSink) Notify(ctx context.Context, id string, account json.RawMessage) error {
	if len(account) == 0 {
		account = json.RawMessage("null")
	}
	body, err := json.Marshal(webhookPayload{
		Content: Message(id, account),
		ID:      id,
		Account: account,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
