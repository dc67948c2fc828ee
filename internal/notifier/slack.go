package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// ValidateWebhookURL checks that a Slack webhook URL is an absolute HTTPS URL.
func ValidateWebhookURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier posts alerts to the incoming webhook configured on each rule.
type SlackNotifier struct {
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier. A nil client gets a
// default client with a 30 second timeout.
func NewSlackNotifier(client *http.Client) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SlackNotifier{httpClient: client}
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return ChannelSlack
}

// Send posts the alert to the rule's webhook.
func (s *SlackNotifier) Send(ctx context.Context, n *Notification) error {
	webhook := n.Rule.SlackWebhookURL
	if err := ValidateWebhookURL(webhook); err != nil {
		return fmt.Errorf("rule %s: %w", n.Rule.Name, err)
	}

	jsonData, err := json.Marshal(buildSlackPayload(n.Alert))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage is the incoming webhook payload.
type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
	Footer string `json:"footer"`
	Ts     int64  `json:"ts"`
}

func buildSlackPayload(alert *models.Alert) slackMessage {
	return slackMessage{
		Text: fmt.Sprintf("%s %s", severityEmoji(alert.Severity), alert.Title),
		Attachments: []slackAttachment{{
			Color:  slackColor(alert.Severity),
			Title:  alert.Title,
			Text:   alert.Message,
			Footer: "hostdeck",
			Ts:     alert.CreatedAt.Unix(),
		}},
	}
}

// slackColor maps severity to Slack's named attachment colors.
func slackColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "danger"
	case models.SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}
