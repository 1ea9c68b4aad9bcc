package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bushu/pkg/logger"
)

// FeishuNotifier sends notifications to Feishu (Lark)
type FeishuNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewFeishuNotifier creates a new Feishu notifier. An empty URL disables sending.
func NewFeishuNotifier(webhookURL string) *FeishuNotifier {
	if webhookURL == "" {
		logger.Warn("Feishu webhook URL not configured, failure notifications will be disabled")
	}

	return &FeishuNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a webhook is configured
func (f *FeishuNotifier) Enabled() bool {
	return f != nil && f.webhookURL != ""
}

// ExecutionFailureNotification describes a failed scheduled execution
type ExecutionFailureNotification struct {
	AccountID int64
	Account   string
	Steps     int
	Trigger   string
	Message   string
	FailedAt  time.Time
}

// SendExecutionFailure posts a failure card to Feishu
func (f *FeishuNotifier) SendExecutionFailure(ctx context.Context, notification *ExecutionFailureNotification) error {
	if !f.Enabled() {
		return nil
	}

	payload, err := json.Marshal(f.buildExecutionFailureMessage(notification))
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Feishu API returned status code: %d", resp.StatusCode)
	}

	logger.InfoCtx(ctx, "Feishu notification sent for account: %s", notification.Account)
	return nil
}

// buildExecutionFailureMessage builds a Feishu message card. Credentials are never included.
func (f *FeishuNotifier) buildExecutionFailureMessage(n *ExecutionFailureNotification) map[string]interface{} {
	field := func(title, value string) map[string]interface{} {
		return map[string]interface{}{
			"is_short": true,
			"text": map[string]interface{}{
				"content": fmt.Sprintf("**%s**\n%s", title, value),
				"tag":     "lark_md",
			},
		}
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": "red",
				"title": map[string]interface{}{
					"content": "Step submission failed",
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag": "div",
					"fields": []interface{}{
						field("Account", n.Account),
						field("Steps", fmt.Sprintf("%d", n.Steps)),
					},
				},
				map[string]interface{}{
					"tag": "div",
					"fields": []interface{}{
						field("Trigger", n.Trigger),
						field("Time", n.FailedAt.Format("2006-01-02 15:04:05")),
					},
				},
				map[string]interface{}{
					"tag": "hr",
				},
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": fmt.Sprintf("**Message**: %s", n.Message),
						"tag":     "lark_md",
					},
				},
			},
		},
	}
}
