package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/intake/internal/intake"
	"github.com/linnemanlabs/intake/internal/triage"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store, patientID, visitID string) {
	t.Helper()
	seedArrived(t, s, patientID, visitID, t0)
}

func seedArrived(t *testing.T, s *Store, patientID, visitID string, arrived time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := s.PutPatient(ctx, &intake.Patient{ID: patientID, Name: "Pat " + patientID, Age: triage.Some(40)}); err != nil {
		t.Fatalf("PutPatient: %v", err)
	}
	if err := s.PutVisit(ctx, &intake.Visit{ID: visitID, PatientID: patientID, ChiefComplaint: "cough", Status: intake.VisitActive, CreatedAt: arrived}); err != nil {
		t.Fatalf("PutVisit: %v", err)
	}
}

func assessmentFor(id, visitID string, level triage.RiskLevel, created time.Time, depts map[triage.Department]float64) *intake.Assessment {
	a := &intake.Assessment{
		ID:         id,
		VisitID:    visitID,
		Prediction: &triage.Prediction{VisitID: visitID, RiskLevel: level, RiskScore: 0.5},
		CreatedAt:  created,
	}
	for d, score := range depts {
		a.Entries = append(a.Entries, &intake.QueueEntry{
			ID:           id + "-" + string(d),
			AssessmentID: id,
			VisitID:      visitID,
			Department:   d,
			Priority:     score,
			Status:       intake.QueuePending,
			CreatedAt:    created,
			UpdatedAt:    created,
		})
	}
	return a
}

func TestStore_PatientRoundTrip(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	p := &intake.Patient{
		ID:             "p-1",
		Name:           "Jane",
		Age:            triage.Some(52),
		MedicalHistory: []triage.HistoryEntry{{ConditionName: "Asthma", IsChronic: true}},
	}
	if err := s.PutPatient(ctx, p); err != nil {
		t.Fatalf("PutPatient: %v", err)
	}

	// mutating the caller's copy must not leak into the store
	p.MedicalHistory[0].ConditionName = "changed"

	got, ok, err := s.Patient(ctx, "p-1")
	if err != nil || !ok {
		t.Fatalf("Patient = %v, %v", ok, err)
	}
	if got.MedicalHistory[0].ConditionName != "Asthma" {
		t.Errorf("history = %+v", got.MedicalHistory)
	}
}

func TestStore_PatientMissing(t *testing.T) {
	t.Parallel()

	_, ok, err := New().Patient(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Patient: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_AppendHistory(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seed(t, s, "p-1", "v-1")

	ok, err := s.AppendHistory(ctx, "p-1", []triage.HistoryEntry{{ConditionName: "Diabetes"}})
	if err != nil || !ok {
		t.Fatalf("AppendHistory = %v, %v", ok, err)
	}
	ok, err = s.AppendHistory(ctx, "missing", []triage.HistoryEntry{{ConditionName: "Diabetes"}})
	if err != nil || ok {
		t.Fatalf("AppendHistory(missing) = %v, %v", ok, err)
	}

	f, ok, err := s.VisitFeatures(ctx, "v-1")
	if err != nil || !ok {
		t.Fatalf("VisitFeatures = %v, %v", ok, err)
	}
	if len(f.MedicalHistory) != 1 || f.MedicalHistory[0].ConditionName != "Diabetes" {
		t.Errorf("history = %+v", f.MedicalHistory)
	}
	if f.VisitID != "v-1" || f.ChiefComplaint != "cough" {
		t.Errorf("features = %+v", f)
	}
	if f.Age != triage.Some(40) {
		t.Errorf("age = %+v", f.Age)
	}
}

func TestStore_VisitFeaturesMissing(t *testing.T) {
	t.Parallel()

	_, ok, err := New().VisitFeatures(context.Background(), "nope")
	if err != nil {
		t.Fatalf("VisitFeatures: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false")
	}
}

func TestStore_PutAssessmentReplacesEntries(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seed(t, s, "p-1", "v-1")

	first := assessmentFor("a-1", "v-1", triage.RiskMedium, t0, map[triage.Department]float64{triage.Respiratory: 0.6})
	second := assessmentFor("a-2", "v-1", triage.RiskHigh, t0.Add(time.Minute), map[triage.Department]float64{triage.Emergency: 0.8})
	for _, a := range []*intake.Assessment{first, second} {
		if err := s.PutAssessment(ctx, a); err != nil {
			t.Fatalf("PutAssessment: %v", err)
		}
	}

	resp, err := s.Queue(ctx, triage.Respiratory, intake.QueueLimit)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(resp) != 0 {
		t.Errorf("stale entries remain: %+v", resp)
	}

	latest, ok, err := s.LatestAssessment(ctx, "v-1")
	if err != nil || !ok {
		t.Fatalf("LatestAssessment = %v, %v", ok, err)
	}
	if latest.ID != "a-2" || len(latest.Entries) != 1 || latest.Entries[0].Department != triage.Emergency {
		t.Errorf("latest = %+v", latest)
	}
}

func TestStore_QueueOrderingAndJoin(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i, tc := range []struct {
		score   float64
		created time.Time
	}{
		{0.5, t0.Add(2 * time.Minute)},
		{0.9, t0.Add(3 * time.Minute)},
		{0.5, t0},
	} {
		pid, vid := fmt.Sprintf("p-%d", i), fmt.Sprintf("v-%d", i)
		seedArrived(t, s, pid, vid, tc.created)
		a := assessmentFor(fmt.Sprintf("a-%d", i), vid, triage.RiskMedium, tc.created,
			map[triage.Department]float64{triage.Cardiology: tc.score})
		if err := s.PutAssessment(ctx, a); err != nil {
			t.Fatalf("PutAssessment: %v", err)
		}
	}

	items, err := s.Queue(ctx, triage.Cardiology, intake.QueueLimit)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	var order []string
	for _, it := range items {
		order = append(order, it.VisitID)
	}
	want := []string{"v-1", "v-2", "v-0"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", order, want)
	}

	first := items[0]
	if first.PatientID != "p-1" || first.PatientName != "Pat p-1" || first.ChiefComplaint != "cough" {
		t.Errorf("join = %+v", first)
	}
	if first.RiskLevel != triage.RiskMedium || first.RiskScore != 0.5 {
		t.Errorf("risk = %s %v", first.RiskLevel, first.RiskScore)
	}
	if !first.ArrivedAt.Equal(t0.Add(3 * time.Minute)) {
		t.Errorf("arrived at = %v", first.ArrivedAt)
	}

	limited, _ := s.Queue(ctx, triage.Cardiology, 2)
	if len(limited) != 2 {
		t.Errorf("limit: got %d items", len(limited))
	}
}

func TestStore_QueueKeepsArrivalOrderAfterReassessment(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seedArrived(t, s, "p-early", "v-early", t0)
	seedArrived(t, s, "p-late", "v-late", t0.Add(5*time.Minute))

	depts := map[triage.Department]float64{triage.Neurology: 0.5}
	for _, a := range []*intake.Assessment{
		assessmentFor("a-1", "v-early", triage.RiskMedium, t0, depts),
		assessmentFor("a-2", "v-late", triage.RiskMedium, t0.Add(5*time.Minute), depts),
		// re-assessment creates fresh entries for the early arrival
		assessmentFor("a-3", "v-early", triage.RiskMedium, t0.Add(10*time.Minute), depts),
	} {
		if err := s.PutAssessment(ctx, a); err != nil {
			t.Fatalf("PutAssessment: %v", err)
		}
	}

	items, err := s.Queue(ctx, triage.Neurology, intake.QueueLimit)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(items) != 2 || items[0].VisitID != "v-early" || items[1].VisitID != "v-late" {
		t.Fatalf("queue = %+v, want v-early before v-late", items)
	}
	if items[0].AssessmentID != "a-3" {
		t.Errorf("assessment = %s, want the re-assessment", items[0].AssessmentID)
	}
}

func TestStore_FindPatients(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for _, p := range []*intake.Patient{
		{ID: "p-1", Name: "Maria Lopez", ContactInfo: "maria@example.com", MedicalHistory: []triage.HistoryEntry{{ConditionName: "Asthma"}}},
		{ID: "p-2", Name: "Mario Rossi", ContactInfo: "mario@example.com"},
		{ID: "p-3", Name: "Ann Marr", ContactInfo: "ann@example.com"},
		{ID: "p-4", Name: "Bob Stone"},
	} {
		if err := s.PutPatient(ctx, p); err != nil {
			t.Fatalf("PutPatient: %v", err)
		}
	}

	ids := func(ps []*intake.Patient) string {
		var out []string
		for _, p := range ps {
			out = append(out, p.ID)
		}
		return fmt.Sprint(out)
	}

	tests := []struct {
		name    string
		byName  string
		contact string
		limit   int
		want    string
	}{
		{"partial name any case", "MAR", "", 5, "[p-3 p-1 p-2]"},
		{"exact contact", "", "mario@example.com", 5, "[p-2]"},
		{"contact is not partial", "", "mario", 5, "[]"},
		{"name and contact must both match", "maria", "mario@example.com", 5, "[]"},
		{"limit", "mar", "", 2, "[p-3 p-1]"},
		{"no match", "zed", "", 5, "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.FindPatients(ctx, tt.byName, tt.contact, tt.limit)
			if err != nil {
				t.Fatalf("FindPatients: %v", err)
			}
			if ids(got) != tt.want {
				t.Errorf("ids = %s, want %s", ids(got), tt.want)
			}
		})
	}

	got, _ := s.FindPatients(ctx, "maria", "", 5)
	if len(got) != 1 || got[0].MedicalHistory != nil {
		t.Errorf("lookup results should not carry history: %+v", got)
	}
	if full, _, _ := s.Patient(ctx, "p-1"); len(full.MedicalHistory) != 1 {
		t.Errorf("lookup must not strip the stored history: %+v", full)
	}
}

func TestStore_UpdateQueueStatus(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seed(t, s, "p-1", "v-1")
	a := assessmentFor("a-1", "v-1", triage.RiskHigh, t0, map[triage.Department]float64{
		triage.Emergency:  0.9,
		triage.Cardiology: 0.7,
	})
	if err := s.PutAssessment(ctx, a); err != nil {
		t.Fatalf("PutAssessment: %v", err)
	}

	at := t0.Add(10 * time.Minute)
	e, ok, err := s.UpdateQueueStatus(ctx, "a-1-Emergency", intake.QueueTreating, at)
	if err != nil || !ok {
		t.Fatalf("UpdateQueueStatus = %v, %v", ok, err)
	}
	if e.Status != intake.QueueTreating || !e.UpdatedAt.Equal(at) {
		t.Errorf("entry = %+v", e)
	}

	if _, _, err := s.UpdateQueueStatus(ctx, "a-1-Cardiology", intake.QueueDischarged, at); err != nil {
		t.Fatalf("UpdateQueueStatus: %v", err)
	}
	items, _ := s.Queue(ctx, triage.Cardiology, intake.QueueLimit)
	if len(items) != 0 {
		t.Errorf("discharged entry still queued: %+v", items)
	}
	v, _, _ := s.Visit(ctx, "v-1")
	if v.Status != intake.VisitCompleted || !v.CompletedAt.Equal(at) {
		t.Errorf("visit = %+v", v)
	}

	_, ok, err = s.UpdateQueueStatus(ctx, "a-1-Cardiology", intake.QueueTreating, at)
	if err != nil || ok {
		t.Errorf("update of removed entry = %v, %v", ok, err)
	}
}

func TestStore_Stats(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	levels := []triage.RiskLevel{triage.RiskHigh, triage.RiskMedium, triage.RiskLow}
	for i, level := range levels {
		pid, vid := fmt.Sprintf("p-%d", i), fmt.Sprintf("v-%d", i)
		seed(t, s, pid, vid)
		a := assessmentFor(fmt.Sprintf("a-%d", i), vid, level, t0, map[triage.Department]float64{
			triage.Emergency:       0.6,
			triage.GeneralMedicine: 0.5,
		})
		if err := s.PutAssessment(ctx, a); err != nil {
			t.Fatalf("PutAssessment: %v", err)
		}
	}
	if err := s.PutPatient(ctx, &intake.Patient{ID: "p-idle", Name: "Idle"}); err != nil {
		t.Fatalf("PutPatient: %v", err)
	}

	// a referred entry no longer counts towards waiting
	if _, _, err := s.UpdateQueueStatus(ctx, "a-2-Emergency", intake.QueueReferred, t0); err != nil {
		t.Fatalf("UpdateQueueStatus: %v", err)
	}
	if _, _, err := s.UpdateQueueStatus(ctx, "a-2-General Medicine", intake.QueueReferred, t0); err != nil {
		t.Fatalf("UpdateQueueStatus: %v", err)
	}

	st, err := s.Stats(ctx, t0.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := intake.Stats{TotalPatients: 4, ActiveVisits: 2, HighRisk: 1, MediumRisk: 1, AvgWaitMinutes: 15}
	if *st != want {
		t.Errorf("stats = %+v, want %+v", *st, want)
	}
}

func TestStore_StatsWaitPerVisitFromArrival(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seedArrived(t, s, "p-a", "v-a", t0)
	seedArrived(t, s, "p-b", "v-b", t0.Add(10*time.Minute))

	for _, a := range []*intake.Assessment{
		assessmentFor("a-1", "v-a", triage.RiskHigh, t0, map[triage.Department]float64{
			triage.Emergency:  0.9,
			triage.Cardiology: 0.8,
			triage.Neurology:  0.4,
		}),
		assessmentFor("a-2", "v-b", triage.RiskLow, t0.Add(10*time.Minute), map[triage.Department]float64{
			triage.Orthopedics: 0.5,
		}),
		// re-assessing v-a must not reset its wait
		assessmentFor("a-3", "v-a", triage.RiskHigh, t0.Add(18*time.Minute), map[triage.Department]float64{
			triage.Emergency:  0.9,
			triage.Cardiology: 0.8,
			triage.Neurology:  0.4,
		}),
	} {
		if err := s.PutAssessment(ctx, a); err != nil {
			t.Fatalf("PutAssessment: %v", err)
		}
	}

	st, err := s.Stats(ctx, t0.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	// v-a waited 20 minutes, v-b 10; each visit counts once
	want := intake.Stats{TotalPatients: 2, ActiveVisits: 2, HighRisk: 1, LowRisk: 1, AvgWaitMinutes: 15}
	if *st != want {
		t.Errorf("stats = %+v, want %+v", *st, want)
	}
}

func TestStore_StatsEmpty(t *testing.T) {
	t.Parallel()

	st, err := New().Stats(context.Background(), t0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if *st != (intake.Stats{}) {
		t.Errorf("stats = %+v", *st)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pid, vid := fmt.Sprintf("p-%d", i), fmt.Sprintf("v-%d", i)
			_ = s.PutPatient(ctx, &intake.Patient{ID: pid, Name: pid})
			_ = s.PutVisit(ctx, &intake.Visit{ID: vid, PatientID: pid, Status: intake.VisitActive})
			_ = s.PutAssessment(ctx, assessmentFor("a-"+vid, vid, triage.RiskLow, t0,
				map[triage.Department]float64{triage.GeneralMedicine: 0.2}))
		}(i)
	}
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Queue(ctx, triage.GeneralMedicine, intake.QueueLimit)
			_, _ = s.Stats(ctx, t0)
		}()
	}
	wg.Wait()

	items, err := s.Queue(ctx, triage.GeneralMedicine, 100)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(items) != 50 {
		t.Errorf("queue length = %d, want 50", len(items))
	}
}
