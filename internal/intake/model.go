package intake

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/intake/internal/triage"
)

// VisitStatus tracks where a visit is in its lifecycle.
type VisitStatus string

const (
	// VisitActive means the patient is on site and may be queued
	VisitActive VisitStatus = "active"

	// VisitCompleted means the patient has been completed or discharged
	VisitCompleted VisitStatus = "completed"
)

// QueueStatus is the state of a department queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueTreating   QueueStatus = "treating"
	QueueCompleted  QueueStatus = "completed"
	QueueDischarged QueueStatus = "discharged"
	QueueReferred   QueueStatus = "referred"
)

var queueStatuses = []QueueStatus{QueuePending, QueueTreating, QueueCompleted, QueueDischarged, QueueReferred}

// ParseQueueStatus resolves a status name case-insensitively.
func ParseQueueStatus(s string) (QueueStatus, error) {
	s = strings.TrimSpace(s)
	for _, st := range queueStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Terminal reports whether the status removes the entry from the queue.
func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueDischarged
}

// Active reports whether an entry with this status counts as waiting or in treatment.
func (s QueueStatus) Active() bool {
	return s == QueuePending || s == QueueTreating
}

// Patient is a registered patient.
type Patient struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Age            triage.Reading        `json:"age"`
	Gender         string                `json:"gender,omitempty"`
	Phone          string                `json:"phone,omitempty"`
	ContactInfo    string                `json:"contact_info,omitempty"` // email or other contact handle
	MedicalHistory []triage.HistoryEntry `json:"medical_history,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Visit is one arrival of a patient at intake.
type Visit struct {
	ID             string           `json:"id"`
	PatientID      string           `json:"patient_id"`
	ChiefComplaint string           `json:"chief_complaint,omitempty"`
	Vitals         *triage.Vitals   `json:"vitals,omitempty"`
	Symptoms       []triage.Symptom `json:"symptoms,omitempty"`
	Status         VisitStatus      `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	CompletedAt    time.Time        `json:"completed_at,omitzero"`
}

// Assessment is a stored engine prediction for a visit.
type Assessment struct {
	ID         string             `json:"id"`
	VisitID    string             `json:"visit_id"`
	Prediction *triage.Prediction `json:"prediction"`
	Entries    []*QueueEntry      `json:"queue_entries,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	Duration   float64            `json:"duration_seconds,omitempty"`
}

// QueueEntry places a visit in one department queue.
type QueueEntry struct {
	ID           string            `json:"id"`
	AssessmentID string            `json:"assessment_id"`
	VisitID      string            `json:"visit_id"`
	Department   triage.Department `json:"department"`
	Priority     float64           `json:"priority_score"`
	Fallback     bool              `json:"fallback,omitempty"`
	Status       QueueStatus       `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// QueueItem is a queue entry joined with what staff need to see on a board.
type QueueItem struct {
	QueueEntry
	PatientID      string           `json:"patient_id"`
	PatientName    string           `json:"patient_name"`
	Age            triage.Reading   `json:"age"`
	ChiefComplaint string           `json:"chief_complaint,omitempty"`
	RiskLevel      triage.RiskLevel `json:"risk_level"`
	RiskScore      float64          `json:"risk_score"`
	ArrivedAt      time.Time        `json:"arrived_at"` // visit creation, unchanged by re-assessment
}

// Stats is the dashboard summary.
type Stats struct {
	TotalPatients  int     `json:"total_patients"`
	ActiveVisits   int     `json:"active_visits"`
	HighRisk       int     `json:"high_risk"`
	MediumRisk     int     `json:"medium_risk"`
	LowRisk        int     `json:"low_risk"`
	AvgWaitMinutes float64 `json:"avg_wait_minutes"`
}

// Explanation is an LLM-written narrative for an assessment.
type Explanation struct {
	VisitID      string    `json:"visit_id"`
	AssessmentID string    `json:"assessment_id"`
	Text         string    `json:"explanation"`
	Model        string    `json:"model,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// BuildFeatures assembles the engine input for a visit from the stored
// patient and visit records. Stores use it so every backend feeds the engine
// the same shape.
func BuildFeatures(p *Patient, v *Visit) triage.VisitFeatures {
	f := triage.VisitFeatures{
		VisitID:        v.ID,
		ChiefComplaint: v.ChiefComplaint,
		Vitals:         v.Vitals,
		Symptoms:       v.Symptoms,
	}
	if p != nil {
		f.Age = p.Age
		f.Gender = p.Gender
		f.MedicalHistory = p.MedicalHistory
	}
	return f
}

// fanOut creates one queue entry per recommended department. Priority is the
// department's own score; entries below threshold are marked as fallback.
func fanOut(a *Assessment, threshold float64, now time.Time, newID func() string) []*QueueEntry {
	p := a.Prediction
	entries := make([]*QueueEntry, 0, len(p.RecommendedDepartments))
	for _, d := range p.RecommendedDepartments {
		score := p.DepartmentScores[d]
		entries = append(entries, &QueueEntry{
			ID:           newID(),
			AssessmentID: a.ID,
			VisitID:      a.VisitID,
			Department:   d,
			Priority:     score,
			Fallback:     score < threshold,
			Status:       QueuePending,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return entries
}
