// Package slack posts ambient suggestions to Slack via incoming webhooks.
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
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ambient/internal/triage"
)

const (
	maxContextLen = 3000
	maxMemories   = 5
	httpTimeout   = 10 * time.Second
)

// Notifier sends suggestions to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Publish is a no-op.
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

// Publish implements triage.Publisher. Webhook failures are logged and
// returned.
func (n *Notifier) Publish(ctx context.Context, s *triage.Suggestion) error {
	if n.webhookURL == "" {
		return nil
	}
	if err := n.send(ctx, s); err != nil {
		n.logger.Warn(ctx, "slack notification failed", "suggestion_id", s.ID, "error", err)
		return err
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, s *triage.Suggestion) error {
	body, err := json.Marshal(buildMessage(s))
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
	return nil
}

func buildMessage(s *triage.Suggestion) map[string]any {
	blocks := []map[string]any{headerBlock(s)}
	if s.Context != "" {
		blocks = append(blocks, contextTextBlock(s))
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, memoriesBlock(s), footerBlock(s))
	return map[string]any{
		"text":   fmt.Sprintf("%d related memories while in %s", len(s.Related), s.App),
		"blocks": blocks,
	}
}

func headerBlock(s *triage.Suggestion) map[string]any {
	noun := "memories"
	if len(s.Related) == 1 {
		noun = "memory"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("\U0001f9e0 %d related %s: %s", len(s.Related), noun, s.App),
		},
	}
}

func contextTextBlock(s *triage.Suggestion) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": truncate(s.Context, maxContextLen),
		},
	}
}

func memoriesBlock(s *triage.Suggestion) map[string]any {
	var b strings.Builder
	for i, m := range s.Related {
		if i == maxMemories {
			fmt.Fprintf(&b, "_…and %d more_\n", len(s.Related)-maxMemories)
			break
		}
		fmt.Fprintf(&b, "• *%s* (%s, %.0f%%)", m.Title, m.Type, m.Similarity*100)
		if m.Summary != nil && *m.Summary != "" {
			fmt.Fprintf(&b, "\n    %s", truncate(*m.Summary, 200))
		}
		b.WriteString("\n")
	}
	text := strings.TrimRight(b.String(), "\n")
	if text == "" {
		text = "_No related memories._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func footerBlock(s *triage.Suggestion) map[string]any {
	ts := s.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("ambient • suggestion %s • %s", s.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return triage.TruncateRunes(s, limit-3) + "..."
}
