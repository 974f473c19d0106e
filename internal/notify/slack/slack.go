// Package slack posts high-risk triage assessments to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/triage"
)

const (
	maxReasonsLen = 3000
	maxHeaderLen  = 150
	maxFactors    = 5
	httpTimeout   = 10 * time.Second
)

// Notifier sends assessment alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Name implements intake.Notifier.
func (n *Notifier) Name() string { return "slack" }

// Send posts the assessment to the configured webhook when it is High risk
// or flagged for clinician review. Other events are ignored.
func (n *Notifier) Send(ctx context.Context, ev *intake.Event) error {
	if n.webhookURL == "" || !wants(ev) {
		return nil
	}

	body, err := json.Marshal(buildMessage(ev))
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

func wants(ev *intake.Event) bool {
	if ev == nil || ev.Kind != intake.EventAssessed || ev.Assessment == nil || ev.Assessment.Prediction == nil {
		return false
	}
	p := ev.Assessment.Prediction
	return p.RiskLevel == triage.RiskHigh || p.Confidence.ReviewRecommended
}

func buildMessage(ev *intake.Event) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(ev),
			{"type": "divider"},
			fieldsBlock(ev.Assessment.Prediction),
			{"type": "divider"},
			reasonsBlock(ev.Assessment.Prediction),
			{"type": "divider"},
			contextBlock(ev),
		},
	}
}

func headerBlock(ev *intake.Event) map[string]any {
	p := ev.Assessment.Prediction
	title := fmt.Sprintf("%s Risk", p.RiskLevel)
	if p.Confidence.ReviewRecommended {
		title += ", review recommended"
	}
	complaint := ev.ChiefComplaint
	if complaint == "" {
		complaint = "no chief complaint"
	}
	text := fmt.Sprintf("%s %s: %s", riskEmoji(p.RiskLevel), title, complaint)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, maxHeaderLen),
		},
	}
}

func fieldsBlock(p *triage.Prediction) map[string]any {
	depts := make([]string, len(p.RecommendedDepartments))
	for i, d := range p.RecommendedDepartments {
		depts[i] = string(d)
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Risk score:* %.2f", p.RiskScore),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Primary:* %s", p.PrimaryDepartment),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Queues:* %s", strings.Join(depts, ", ")),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %.2f", p.Confidence.Overall),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Data completeness:* %.0f%%", p.Confidence.DataCompleteness*100),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Critical indicators:* %s", yesNo(p.Confidence.HasCriticalIndicators)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func reasonsBlock(p *triage.Prediction) map[string]any {
	var b strings.Builder
	for _, o := range p.Explainability.SafetyOverrides {
		fmt.Fprintf(&b, ":warning: %s\n", o)
	}
	for _, f := range topFactors(p.Explainability.RiskFactors, maxFactors) {
		fmt.Fprintf(&b, "• %s (+%.2f)\n", f.name, f.weight)
	}

	text := truncate(strings.TrimSpace(b.String()), maxReasonsLen)
	if text == "" {
		text = "_No contributing factors recorded._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Why*\n\n%s", text),
		},
	}
}

func contextBlock(ev *intake.Event) map[string]any {
	ts := ev.At
	if ts.IsZero() {
		ts = ev.Assessment.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("intake • visit %s • assessment %s • %s", ev.VisitID, ev.Assessment.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

type factor struct {
	name   string
	weight float64
}

// topFactors returns the n heaviest positive factors, ties broken by name.
func topFactors(m map[string]float64, n int) []factor {
	out := make([]factor, 0, len(m))
	for k, v := range m {
		if v > 0 {
			out = append(out, factor{k, v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].weight != out[j].weight {
			return out[i].weight > out[j].weight
		}
		return out[i].name < out[j].name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func riskEmoji(level triage.RiskLevel) string {
	switch level {
	case triage.RiskHigh:
		return "\U0001f534" // red circle
	case triage.RiskMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
