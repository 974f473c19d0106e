package triage

import (
	"errors"
	"fmt"
	"strings"
)

// Department is a hospital department a patient can be queued into.
type Department string

const (
	Emergency       Department = "Emergency"
	Cardiology      Department = "Cardiology"
	Respiratory     Department = "Respiratory"
	Neurology       Department = "Neurology"
	GeneralMedicine Department = "General Medicine"
	Orthopedics     Department = "Orthopedics"
)

// Departments is the fixed department set in tie-break priority order.
var Departments = []Department{
	Emergency,
	Cardiology,
	Respiratory,
	Neurology,
	GeneralMedicine,
	Orthopedics,
}

// ErrUnknownDepartment is returned when a name is not one of Departments.
var ErrUnknownDepartment = errors.New("unknown department")

// ParseDepartment resolves a department name case-insensitively.
func ParseDepartment(s string) (Department, error) {
	s = strings.TrimSpace(s)
	for _, d := range Departments {
		if strings.EqualFold(s, string(d)) {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDepartment, s)
}

// priority returns the tie-break rank of d, lower wins. Unknown departments sort last.
func priority(d Department) int {
	for i, x := range Departments {
		if x == d {
			return i
		}
	}
	return len(Departments)
}

// RiskLevel is the coarse triage category.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Gender of the patient after normalization.
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
	GenderOther  Gender = "Other"
)

// VisitFeatures is the raw visit record handed to the engine. Every field is
// optional; missing or malformed values are replaced by defaults.
type VisitFeatures struct {
	VisitID        string         `json:"visit_id,omitempty"`
	Age            Reading        `json:"age"`
	Gender         string         `json:"gender,omitempty"`
	ChiefComplaint string         `json:"chief_complaint,omitempty"`
	Vitals         *Vitals        `json:"vitals,omitempty"`
	Symptoms       []Symptom      `json:"symptoms,omitempty"`
	MedicalHistory []HistoryEntry `json:"medical_history,omitempty"`
}

// Vitals are the measurements taken at intake.
type Vitals struct {
	BPSystolic  Reading `json:"bp_systolic"`
	BPDiastolic Reading `json:"bp_diastolic"`
	HeartRate   Reading `json:"heart_rate"`
	Temperature Reading `json:"temperature"` // Fahrenheit
}

// Symptom is one reported symptom. Severity is on a 1..5 scale.
type Symptom struct {
	Name     string  `json:"name"`
	Severity Reading `json:"severity"`
	Duration string  `json:"duration,omitempty"`
}

// HistoryEntry is one condition from the patient's medical history.
type HistoryEntry struct {
	ConditionName string `json:"condition_name"`
	IsChronic     bool   `json:"is_chronic"`
	DiagnosisDate string `json:"diagnosis_date,omitempty"` // YYYY-MM-DD
	Notes         string `json:"notes,omitempty"`
}

// Prediction is the sole artifact the engine produces.
type Prediction struct {
	VisitID                string                 `json:"visit_id,omitempty"`
	RiskLevel              RiskLevel              `json:"risk_level"`
	RiskScore              float64                `json:"risk_score"`
	DepartmentScores       map[Department]float64 `json:"department_scores"`
	RecommendedDepartments []Department           `json:"recommended_departments"`
	PrimaryDepartment      Department             `json:"primary_department"`
	Explainability         Explainability         `json:"explainability"`
	Confidence             Confidence             `json:"confidence"`
}

// Explainability records which input factors contributed which weight.
type Explainability struct {
	RiskFactors         map[string]float64                `json:"risk_factors"`
	DepartmentReasoning map[Department]map[string]float64 `json:"department_reasoning"`
	ScoreBreakdown      ScoreBreakdown                    `json:"score_breakdown"`
	SafetyOverrides     []string                          `json:"safety_overrides,omitempty"`
}

// ScoreBreakdown holds the risk subtotals per rule group. Total is the
// post-override, pre-clamp sum of all other fields.
type ScoreBreakdown struct {
	Base     float64 `json:"base"`
	Symptom  float64 `json:"symptom_score"`
	Vitals   float64 `json:"vitals_score"`
	History  float64 `json:"history_score"`
	Age      float64 `json:"age_score"`
	Override float64 `json:"override"`
	Total    float64 `json:"total"`
}

// Confidence holds meta-confidence metrics about a prediction.
type Confidence struct {
	Overall               float64 `json:"overall"`
	DataCompleteness      float64 `json:"data_completeness"`
	DecisionClarity       float64 `json:"decision_clarity"`
	HasCriticalIndicators bool    `json:"has_critical_indicators"`
	ReviewRecommended     bool    `json:"review_recommended,omitempty"`
}
