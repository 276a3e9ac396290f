package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/whalewatch/engine/internal/alert"
	"github.com/whalewatch/engine/internal/store"
)

// DefaultWebhookMaxChars is the Discord message content limit.
const DefaultWebhookMaxChars = 2000

// WebhookPoster posts {"content": text} to a Discord-compatible webhook.
type WebhookPoster struct {
	url      string
	maxChars int
	client   *http.Client
}

// NewWebhookPoster creates a poster truncating content to maxChars.
func NewWebhookPoster(url string, maxChars int) *WebhookPoster {
	if maxChars <= 0 {
		maxChars = DefaultWebhookMaxChars
	}
	return &WebhookPoster{
		url:      url,
		maxChars: maxChars,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookPoster) Name() string { return "webhook" }

type webhookPayload struct {
	Content string `json:"content"`
}

// Publish sends one request; failures are returned for logging and never retried.
func (w *WebhookPoster) Publish(ctx context.Context, a store.Alert) error {
	body, err := json.Marshal(webhookPayload{Content: alert.Truncate(a.Text, w.maxChars)})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
