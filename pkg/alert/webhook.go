package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EventCycleCompleted is the event name carried by webhook deliveries.
const EventCycleCompleted = "cycle.completed"

// Envelope is the body posted to generic webhooks.
type Envelope struct {
	Event  string        `json:"event"`
	SentAt time.Time     `json:"sent_at"`
	Data   *Notification `json:"data"`
}

// Webhook posts notifications to a generic HTTP endpoint, signing the body
// with HMAC-SHA256 when a secret is set.
type Webhook struct {
	client *http.Client
	url    string
	secret string
}

func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(Envelope{
		Event:  EventCycleCompleted,
		SentAt: time.Now().UTC(),
		Data:   n,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chanwatch/1.0")
	req.Header.Set("X-Chanwatch-Event", EventCycleCompleted)
	if w.secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
