package triage

import (
	"math"
	"strings"
)

// Keyword sets used to derive history flags and symptom aggregates. Matching
// is case-insensitive substring containment.
var (
	chestKeywords            = []string{"chest", "cardiac", "heart", "angina", "palpitation"}
	breathKeywords           = []string{"breath", "cough", "wheez"}
	cardiacHistoryKeywords   = []string{"cardiac", "heart", "hypertension", "angina", "murmur", "failure"}
	respiratoryHistoryKeywds = []string{"asthma", "copd", "lung", "respiratory", "breath"}
	diabetesKeywords         = []string{"diabetes"}
)

// NormalizedFeatures is the fully defaulted feature set every scorer reads.
type NormalizedFeatures struct {
	Age            float64
	Gender         Gender
	ChiefComplaint string

	BPSystolic  int
	BPDiastolic int
	HeartRate   int
	Temperature float64

	Symptoms []NormalizedSymptom
	History  []HistoryEntry

	ChestPainSeverity   int
	ChestSymptom        string
	RespiratorySeverity int
	RespiratorySymptom  string
	MaxSeverity         int
	SymptomCount        int
	ComorbiditiesCount  int
	ChronicConditions   int

	CardiacHistory     int
	CardiacCondition   string
	RespiratoryHistory int
	RespiratoryCond    string
	DiabetesStatus     int // 0 or 2, reserved for severity grading

	Present Presence
}

// NormalizedSymptom is a symptom with a clamped severity.
type NormalizedSymptom struct {
	Name     string // trimmed, original case
	Match    string // lowercased for keyword matching
	Severity int
}

// Presence records which optional input groups were actually supplied.
type Presence struct {
	Vitals         bool
	Symptoms       bool
	History        bool
	ChiefComplaint bool
}

// Count returns the number of groups present.
func (p Presence) Count() int {
	n := 0
	for _, b := range []bool{p.Vitals, p.Symptoms, p.History, p.ChiefComplaint} {
		if b {
			n++
		}
	}
	return n
}

// Normalize converts a raw visit record into NormalizedFeatures. It never
// fails: missing or malformed fields take their documented defaults.
func Normalize(raw VisitFeatures) NormalizedFeatures {
	nf := NormalizedFeatures{
		Age:         DefaultAge,
		Gender:      normalizeGender(raw.Gender),
		BPSystolic:  DefaultSystolic,
		BPDiastolic: DefaultDiastolic,
		HeartRate:   DefaultHeartRate,
		Temperature: DefaultTemperature,
		MaxSeverity: minSeverity,
	}

	if age := raw.Age.Or(-1); age >= 0 && age <= maxPlausibleAge {
		nf.Age = age
	}

	nf.ChiefComplaint = strings.TrimSpace(raw.ChiefComplaint)
	if nf.ChiefComplaint == "" || strings.EqualFold(nf.ChiefComplaint, DefaultChiefComplaint) {
		nf.ChiefComplaint = DefaultChiefComplaint
	} else {
		nf.Present.ChiefComplaint = true
	}

	if v := raw.Vitals; v != nil {
		nf.BPSystolic = positiveInt(v.BPSystolic, DefaultSystolic, maxSystolic)
		nf.BPDiastolic = positiveInt(v.BPDiastolic, DefaultDiastolic, maxDiastolic)
		nf.HeartRate = positiveInt(v.HeartRate, DefaultHeartRate, maxHeartRate)
		if t := v.Temperature; t.Valid && t.Value > 0 {
			nf.Temperature = math.Min(t.Value, maxTemperature)
		}
		nf.Present.Vitals = v.BPSystolic.Valid || v.BPDiastolic.Valid || v.HeartRate.Valid || v.Temperature.Valid
	}

	for _, s := range raw.Symptoms {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		ns := NormalizedSymptom{
			Name:     name,
			Match:    strings.ToLower(name),
			Severity: clampSeverity(s.Severity),
		}
		nf.Symptoms = append(nf.Symptoms, ns)

		nf.MaxSeverity = max(nf.MaxSeverity, ns.Severity)
		if containsAny(ns.Match, chestKeywords) && ns.Severity > nf.ChestPainSeverity {
			nf.ChestPainSeverity = ns.Severity
			nf.ChestSymptom = ns.Match
		}
		if containsAny(ns.Match, breathKeywords) && ns.Severity > nf.RespiratorySeverity {
			nf.RespiratorySeverity = ns.Severity
			nf.RespiratorySymptom = ns.Match
		}
	}
	nf.SymptomCount = max(len(nf.Symptoms), 1)
	nf.Present.Symptoms = len(nf.Symptoms) > 0

	for _, h := range raw.MedicalHistory {
		name := strings.TrimSpace(h.ConditionName)
		if name == "" {
			continue
		}
		h.ConditionName = name
		nf.History = append(nf.History, h)

		lower := strings.ToLower(name)
		if h.IsChronic {
			nf.ChronicConditions++
		}
		if nf.CardiacHistory == 0 && containsAny(lower, cardiacHistoryKeywords) {
			nf.CardiacHistory = 1
			nf.CardiacCondition = lower
		}
		if nf.RespiratoryHistory == 0 && containsAny(lower, respiratoryHistoryKeywds) {
			nf.RespiratoryHistory = 1
			nf.RespiratoryCond = lower
		}
		if containsAny(lower, diabetesKeywords) {
			nf.DiabetesStatus = 2
		}
	}
	nf.ComorbiditiesCount = len(nf.History)
	nf.Present.History = len(nf.History) > 0

	return nf
}

func normalizeGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultGender
	case "m", "male":
		return GenderMale
	case "f", "female":
		return GenderFemale
	default:
		return GenderOther
	}
}

// positiveInt rounds a positive reading, capped at ceiling. Absent,
// non-positive and NaN readings return def; +Inf takes the cap. Clamping
// happens in float space so huge values cannot overflow the conversion.
func positiveInt(r Reading, def, ceiling int) int {
	if !r.Valid || !(r.Value > 0) {
		return def
	}
	return int(math.Round(math.Min(r.Value, float64(ceiling))))
}

func clampSeverity(r Reading) int {
	if !r.Valid || math.IsNaN(r.Value) {
		return minSeverity
	}
	return int(math.Round(math.Max(minSeverity, math.Min(r.Value, maxSeverity))))
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
