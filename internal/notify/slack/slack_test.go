package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/triage"
)

func highRiskEvent() *intake.Event {
	return &intake.Event{
		Kind:           intake.EventAssessed,
		At:             time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
		VisitID:        "01JNVISIT",
		ChiefComplaint: "crushing chest pain",
		Assessment: &intake.Assessment{
			ID:      "01JNASSESS",
			VisitID: "01JNVISIT",
			Prediction: &triage.Prediction{
				RiskLevel:              triage.RiskHigh,
				RiskScore:              0.91,
				RecommendedDepartments: []triage.Department{triage.Cardiology, triage.Emergency},
				PrimaryDepartment:      triage.Cardiology,
				Explainability: triage.Explainability{
					RiskFactors: map[string]float64{
						"Symptom: chest pain":    0.3,
						"Hypertensive crisis":    0.25,
						"Cardiac history":        0.15,
						"Tachycardia":            0.1,
						"Age 65+":                0.1,
						"Mild fever":             0.05,
						"Normalizing adjustment": -0.05,
					},
					SafetyOverrides: []string{"Cardiac emergency"},
				},
				Confidence: triage.Confidence{Overall: 0.82, DataCompleteness: 0.75, HasCriticalIndicators: true},
			},
		},
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if n.Name() != "slack" {
		t.Errorf("Name() = %q", n.Name())
	}
	if err := n.Send(context.Background(), highRiskEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, reasons, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Fatalf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "crushing chest pain") || !strings.Contains(headerText, "High Risk") {
		t.Errorf("header text = %q", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Errorf("header should contain red circle for High risk")
	}

	reasons := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(reasons, "Cardiac emergency") {
		t.Errorf("reasons missing safety override: %q", reasons)
	}
	if strings.Contains(reasons, "Mild fever") || strings.Contains(reasons, "Normalizing") {
		t.Errorf("reasons should hold only the top %d positive factors: %q", maxFactors, reasons)
	}
	if !strings.HasPrefix(strings.SplitN(reasons, "• ", 2)[1], "Symptom: chest pain") {
		t.Errorf("heaviest factor should come first: %q", reasons)
	}

	ctxText := blocks[6].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "01JNVISIT") || !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context = %q", ctxText)
	}
}

func TestSend_Filters(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	medium := highRiskEvent()
	medium.Assessment.Prediction.RiskLevel = triage.RiskMedium

	review := highRiskEvent()
	review.Assessment.Prediction.RiskLevel = triage.RiskMedium
	review.Assessment.Prediction.Confidence.ReviewRecommended = true

	tests := []struct {
		name string
		ev   *intake.Event
		want bool
	}{
		{"high risk", highRiskEvent(), true},
		{"medium risk", medium, false},
		{"medium needing review", review, true},
		{"queue update", &intake.Event{Kind: intake.EventQueueUpdated, VisitID: "v"}, false},
		{"nil event", nil, false},
		{"assessment without prediction", &intake.Event{Kind: intake.EventAssessed, Assessment: &intake.Assessment{}}, false},
	}

	n := New(srv.URL)
	for _, tt := range tests {
		before := calls.Load()
		if err := n.Send(context.Background(), tt.ev); err != nil {
			t.Fatalf("%s: Send: %v", tt.name, err)
		}
		if posted := calls.Load() > before; posted != tt.want {
			t.Errorf("%s: posted = %v, want %v", tt.name, posted, tt.want)
		}
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), highRiskEvent()); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := New(srv.URL).Send(context.Background(), highRiskEvent())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestReasonsBlock_Empty(t *testing.T) {
	t.Parallel()

	b := reasonsBlock(&triage.Prediction{})
	text := b["text"].(map[string]any)["text"].(string)
	if !strings.Contains(text, "No contributing factors") {
		t.Errorf("text = %q", text)
	}
}

func TestRiskEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level triage.RiskLevel
		want  string
	}{
		{triage.RiskHigh, "\U0001f534"},
		{triage.RiskMedium, "\U0001f7e1"},
		{triage.RiskLow, "\U0001f7e2"},
		{"", "\U0001f7e2"},
	}

	for _, tt := range tests {
		if got := riskEmoji(tt.level); got != tt.want {
			t.Errorf("riskEmoji(%q) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("chest pain", "Symptom: chest pain", 0.3, "Cardiac emergency")
	f.Add("", "", 0.0, "")
	f.Add("<@U123> mention", "*bold* _italic_ ~strike~", -1.0, "```code```")
	f.Add("complaint\x00\x01\x02", "factor\nline", 0.5, "override\ttab")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("x", 10000), 1e9, strings.Repeat("o", 4000))

	f.Fuzz(func(t *testing.T, complaint, factorName string, weight float64, override string) {
		ev := highRiskEvent()
		ev.ChiefComplaint = complaint
		ev.Assessment.Prediction.Explainability.RiskFactors = map[string]float64{factorName: weight}
		ev.Assessment.Prediction.Explainability.SafetyOverrides = []string{override}

		// Must not panic
		msg := buildMessage(ev)

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok || len(blocks) != 7 {
			t.Fatalf("blocks = %v, want 7", decoded["blocks"])
		}
		header := msg["blocks"].([]map[string]any)[0]["text"].(map[string]any)["text"].(string)
		if len(header) > maxHeaderLen {
			t.Errorf("header length = %d, want <= %d", len(header), maxHeaderLen)
		}
	})
}
