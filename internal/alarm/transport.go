package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/grepwise/grepwise/internal/model"
)

// WebhookTransport posts a JSON payload to an arbitrary URL. Slack,
// PagerDuty, and OpsGenie are all webhook-shaped from the caller's
// side, so they share this implementation under different registry
// keys with destination set to the provider's incoming-webhook URL.
type WebhookTransport struct {
	client *http.Client
}

// NewWebhookTransport builds a transport with the same timeout budget
// the teacher's own outbound HTTP clients use.
func NewWebhookTransport() *WebhookTransport {
	return &WebhookTransport{client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *WebhookTransport) SendAlert(ctx context.Context, a model.Alarm, destination, message string) bool {
	return t.post(ctx, destination, map[string]interface{}{
		"alarm":   a.Name,
		"message": message,
	})
}

func (t *WebhookTransport) SendGroupedAlert(ctx context.Context, groupingKey, destination, message string, count int) bool {
	return t.post(ctx, destination, map[string]interface{}{
		"grouping_key": groupingKey,
		"message":      message,
		"count":        count,
	})
}

func (t *WebhookTransport) post(ctx context.Context, destination string, payload map[string]interface{}) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// EmailTransport sends notifications over SMTP. No mail-sending
// library exists anywhere in the teacher or the pack, so this is the
// stdlib net/smtp fallback, not a default preference.
type EmailTransport struct {
	smtpAddr string
	from     string
	auth     smtp.Auth
}

// NewEmailTransport builds a transport that relays through smtpAddr
// ("host:port") as from, authenticating with auth (nil for an
// unauthenticated relay).
func NewEmailTransport(smtpAddr, from string, auth smtp.Auth) *EmailTransport {
	return &EmailTransport{smtpAddr: smtpAddr, from: from, auth: auth}
}

func (t *EmailTransport) SendAlert(_ context.Context, a model.Alarm, destination, message string) bool {
	return t.send(destination, fmt.Sprintf("Subject: Alarm: %s\r\n\r\n%s\r\n", a.Name, message))
}

func (t *EmailTransport) SendGroupedAlert(_ context.Context, groupingKey, destination, message string, count int) bool {
	return t.send(destination, fmt.Sprintf("Subject: Grouped alarm: %s (%d)\r\n\r\n%s\r\n", groupingKey, count, message))
}

func (t *EmailTransport) send(destination, body string) bool {
	err := smtp.SendMail(t.smtpAddr, t.auth, t.from, []string{destination}, []byte(body))
	return err == nil
}
