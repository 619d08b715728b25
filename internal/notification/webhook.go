package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"intraday-signals/internal/model"
)

// WebhookNotifier POSTs each alert intent as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// webhookEnvelope is the alert intent as stored, plus the rendered text.
type webhookEnvelope struct {
	model.AlertIntent
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookEnvelope{
		AlertIntent: alert.Intent(),
		Title:       alert.Title,
		Message:     alert.Message,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Id", alert.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s %s: unexpected status %d", alert.Kind, alert.Symbol, resp.StatusCode)
	}

	log.Printf("[webhook] delivered %s %s (%s)", alert.Kind, alert.Symbol, alert.ID)
	return nil
}
