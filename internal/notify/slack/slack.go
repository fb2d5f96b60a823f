// Package slack sends pipeline notifications to Slack via incoming webhooks.
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

	"github.com/linnemanlabs/medic/internal/action"
	"github.com/linnemanlabs/medic/internal/dispatch"
	"github.com/linnemanlabs/medic/internal/pipeline"
)

const (
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends pipeline results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
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

// Send posts a pipeline result to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, result *pipeline.Result) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(result)

	body, err := json.Marshal(msg)
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

	n.logger.Info(ctx, "slack notification sent", "run_id", result.ID, "action", result.Action.Name)
	return nil
}

func buildMessage(r *pipeline.Result) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			messageBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func dispatchFailed(r *pipeline.Result) bool {
	return r.Outcome != nil && r.Outcome.Status == dispatch.StatusFailed
}

func headerBlock(r *pipeline.Result) map[string]any {
	emoji := severityEmoji(dispatchFailed(r), r.Alert.Severity)
	title := "Attention Needed"
	if dispatchFailed(r) {
		title = "Remediation Failed"
	}
	text := fmt.Sprintf("%s %s: %s", emoji, title, truncate(r.Alert.Problem, 120))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *pipeline.Result) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Host:* %s", r.Alert.Host),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", r.Alert.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Action:* %s", r.Action.Name),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Outcome:* %s", r.OutcomeLabel()),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %.2f", r.Action.Confidence),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %.1fs", r.Duration.Seconds()),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

// messageBody is the notify message for notify actions, or the dispatch
// failure detail otherwise.
func messageBody(r *pipeline.Result) string {
	if dispatchFailed(r) {
		return fmt.Sprintf("%s to `%s` failed: %s", r.Action.Name, r.Outcome.TargetEndpoint, r.Outcome.Detail)
	}
	if r.Action.Name == action.Notify {
		if msg, ok := r.Action.Arguments["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return r.Action.Reason
}

func messageBlock(r *pipeline.Result) map[string]any {
	text := truncate(messageBody(r), maxMessageLen)
	if text == "" {
		text = "_No details available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Details*\n\n%s", text),
		},
	}
}

func contextBlock(r *pipeline.Result) map[string]any {
	ts := r.StartedAt
	if ts.IsZero() {
		ts = time.Unix(r.Alert.Timestamp, 0)
	}

	text := fmt.Sprintf("medic • run %s • event %s • %s", r.ID, r.Alert.EventID, ts.UTC().Format("2006-01-02 15:04 UTC"))
	if r.Outcome != nil && r.Outcome.TraceID != "" {
		text += " • trace " + r.Outcome.TraceID
	}

	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": text},
		},
	}
}

func severityEmoji(failed bool, severity string) string {
	if failed {
		return "\U0001f534" // red circle
	}
	switch strings.ToLower(severity) {
	case "disaster", "critical", "high":
		return "\U0001f534" // red circle
	case "average", "warning":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
