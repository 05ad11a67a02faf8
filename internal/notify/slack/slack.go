// Package slack posts relevant-alert notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/herald/internal/alert"
)

const (
	maxSnippetLen = 3000
	maxReasonLen  = 1000
	httpTimeout   = 10 * time.Second
)

// Notifier sends relevant alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

// Notify posts a relevant alert to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, a *alert.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(a))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "alert_id", a.ID)
	return nil
}

func buildMessage(a *alert.Alert) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(a),
			{"type": "divider"},
			fieldsBlock(a),
			{"type": "divider"},
			snippetBlock(a),
			{"type": "divider"},
			contextBlock(a),
		},
	}
}

func headerBlock(a *alert.Alert) map[string]any {
	score, _ := a.RelevancyScore()
	text := fmt.Sprintf("%s Relevant alert: %s", scoreEmoji(score), a.Title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(a *alert.Alert) map[string]any {
	score, _ := a.RelevancyScore()
	source := a.Source
	if source == "" {
		source = "unknown"
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Source:* %s", source),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Relevancy:* %.0f%%", score*100),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Why:* %s", truncate(a.Score.Reason, maxReasonLen)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func snippetBlock(a *alert.Alert) map[string]any {
	text := truncate(a.Snippet, maxSnippetLen)
	if text == "" {
		text = "_No snippet available._"
	}
	if a.Link != "" {
		text += fmt.Sprintf("\n\n<%s|Read more>", a.Link)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Snippet*\n\n%s", text),
		},
	}
}

func contextBlock(a *alert.Alert) map[string]any {
	ts := a.ImportedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("herald • alert %s • %s", a.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func scoreEmoji(score float64) string {
	switch {
	case score >= 0.8:
		return "\U0001f525" // fire
	case score >= alert.RelevanceThreshold:
		return "\U0001f7e2" // green circle
	default:
		return "⚪" // white circle
	}
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
