package intake_test

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/intake/memstore"
	"github.com/linnemanlabs/intake/internal/triage"
)

func TestAssess_ReassessKeepsWaitAndQueuePosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := t0

	svc := intake.NewService(memstore.New(), triage.NewEngine(triage.DefaultConfig()), log.Nop(), intake.Hooks{}, nil)
	intake.SetClock(svc, func() time.Time { return now })

	submit := func(name string) (*intake.Visit, *intake.Assessment) {
		t.Helper()
		p, err := svc.RegisterPatient(ctx, &intake.Patient{Name: name})
		if err != nil {
			t.Fatalf("RegisterPatient: %v", err)
		}
		v, a, err := svc.SubmitVisit(ctx, &intake.Visit{
			PatientID: p.ID,
			Symptoms:  []triage.Symptom{{Name: "cough", Severity: triage.Some(4)}},
		})
		if err != nil {
			t.Fatalf("SubmitVisit: %v", err)
		}
		return v, a
	}

	first, a := submit("Ada Early")
	now = t0.Add(5 * time.Minute)
	second, _ := submit("Ben Later")
	dept := string(a.Prediction.PrimaryDepartment)

	now = t0.Add(20 * time.Minute)
	re, ok, err := svc.Assess(ctx, first.ID)
	if err != nil || !ok {
		t.Fatalf("Assess = %v, %v", ok, err)
	}
	if re.ID == a.ID {
		t.Fatal("reassessment should create a new assessment")
	}

	q, err := svc.Queue(ctx, dept)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(q) != 2 {
		t.Fatalf("queue length = %d, want 2", len(q))
	}
	if q[0].VisitID != first.ID || q[1].VisitID != second.ID {
		t.Errorf("queue order = [%s %s], want earliest arrival first", q[0].VisitID, q[1].VisitID)
	}
	if q[0].AssessmentID != re.ID {
		t.Errorf("head entry assessment = %s, want %s", q[0].AssessmentID, re.ID)
	}
	if !q[0].ArrivedAt.Equal(t0) {
		t.Errorf("ArrivedAt = %v, want %v", q[0].ArrivedAt, t0)
	}

	// waits are 30 and 25 minutes from arrival, not from the reassessment
	now = t0.Add(30 * time.Minute)
	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.ActiveVisits != 2 {
		t.Errorf("ActiveVisits = %d, want 2", st.ActiveVisits)
	}
	if st.AvgWaitMinutes != 27.5 {
		t.Errorf("AvgWaitMinutes = %v, want 27.5", st.AvgWaitMinutes)
	}
}
