package intake

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/linnemanlabs/intake/internal/triage"
)

const (
	// ExplainMaxLines is the maximum number of lines kept from a narrative.
	ExplainMaxLines = 3
	// ExplainTokens bounds the provider response.
	ExplainTokens = 300
)

// Provider is the interface for any LLM backend.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is the input to the LLM provider.
type LLMRequest struct {
	MaxTokens int
	System    string
	Messages  []Message
}

// LLMResponse is the output from the LLM provider.
type LLMResponse struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
	Model      string
}

// StopReason indicates why the LLM stopped generating content.
type StopReason string

const (
	StopEnd       StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
)

// Message is a single message in the conversation.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Text concatenates the text blocks of a response.
func (r *LLMResponse) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func buildSystemPrompt() string {
	return `You are a clinical triage assistant. A rule engine has already scored the patient.
Explain its result to the receiving clinician in plain language.

Rules:
- At most 3 short lines.
- Name the strongest contributing factors and the recommended department.
- Mention any safety override.
- Do not add a diagnosis or change the engine's risk level.`
}

func buildExplainPrompt(v *Visit, a *Assessment) string {
	p := a.Prediction

	var b strings.Builder
	fmt.Fprintf(&b, "Chief complaint: %s\n", orDash(v.ChiefComplaint))
	if len(v.Symptoms) > 0 {
		syms := make([]string, 0, len(v.Symptoms))
		for _, s := range v.Symptoms {
			syms = append(syms, fmt.Sprintf("%s (severity %v)", s.Name, s.Severity.Or(1)))
		}
		fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(syms, ", "))
	}
	fmt.Fprintf(&b, "Risk: %s (%.2f)\n", p.RiskLevel, p.RiskScore)
	fmt.Fprintf(&b, "Primary department: %s\n", p.PrimaryDepartment)
	fmt.Fprintf(&b, "Recommended departments: %s\n", joinDepartments(p.RecommendedDepartments))
	fmt.Fprintf(&b, "Top risk factors: %s\n", topFactors(p.Explainability.RiskFactors, 4))
	if len(p.Explainability.SafetyOverrides) > 0 {
		fmt.Fprintf(&b, "Safety overrides: %s\n", strings.Join(p.Explainability.SafetyOverrides, "; "))
	}
	if p.Confidence.ReviewRecommended {
		b.WriteString("Data is sparse for a critical case; human review is recommended.\n")
	}
	b.WriteString("\nExplain this triage result.")
	return b.String()
}

// trimLines keeps at most n non-empty lines.
func trimLines(s string, n int) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return strings.Join(out, "\n")
}

func topFactors(m map[string]float64, n int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if m[a] != m[b] {
			if m[a] > m[b] {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s +%.2f", k, m[k]))
	}
	return strings.Join(parts, ", ")
}

func joinDepartments(ds []triage.Department) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		parts = append(parts, string(d))
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
