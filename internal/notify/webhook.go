package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"flightguard/internal/config"
	"flightguard/internal/model"
	"flightguard/internal/retry"
)

// Webhook posts alerts as slack, teams or plain JSON payloads.
type Webhook struct {
	name   string
	url    string
	format string
	client *http.Client
}

func NewWebhook(cfg config.ChannelConfig) *Webhook {
	return &Webhook{
		name:   cfg.Name,
		url:    cfg.ResolvedURL(),
		format: cfg.Format,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Deliver(ctx context.Context, ev model.AlertEvent) error {
	if w.url == "" {
		return retry.Permanent(fmt.Errorf("webhook %s has no url", w.name))
	}
	body, err := w.body(ev)
	if err != nil {
		return retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return retry.Permanent(fmt.Errorf("webhook returned HTTP %d", resp.StatusCode))
	}
	return nil
}

func (w *Webhook) body(ev model.AlertEvent) ([]byte, error) {
	switch w.format {
	case "slack":
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*%s* %s: %s", severityLabel(ev.Severity), ev.Category, ev.Message),
		})
	case "teams":
		return json.Marshal(map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(ev.Severity),
			"summary":    ev.Category,
			"title":      fmt.Sprintf("flightguard alert: %s", ev.Category),
			"text":       ev.Message,
		})
	}
	return encode(ev)
}

func (w *Webhook) Close() error { return nil }
