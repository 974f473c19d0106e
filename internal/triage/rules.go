package triage

import (
	"fmt"
	"strconv"
	"strings"
)

// The rule tables below are the single authoritative definition of the
// engine. Each entry pairs a predicate with its weight and the label that is
// written to the explainability record, so scoring and explanation cannot drift.

type riskRule struct {
	group  Group
	when   func(f *NormalizedFeatures) bool
	weight func(f *NormalizedFeatures) float64
	label  func(f *NormalizedFeatures) string
}

type overrideRule struct {
	when  func(f *NormalizedFeatures) bool
	label func(f *NormalizedFeatures) string
}

type deptWeight struct {
	dept   Department
	weight float64
}

type deptRule struct {
	when    func(f *NormalizedFeatures) bool
	label   func(f *NormalizedFeatures) string
	weights []deptWeight
}

// keywordGroup routes free text (symptom names and the chief complaint) to
// departments. Weights apply at severity 5 and scale linearly below that.
type keywordGroup struct {
	name     string
	keywords []string
	weights  []deptWeight
}

// Vital-sign thresholds.
const (
	elevatedSystolic     = 160
	criticalSystolic     = 180
	criticalDiastolic    = 110
	elevatedHeartRate    = 100
	criticalHeartRate    = 120
	feverTemperature     = 100.4
	seniorAge            = 50
	criticalChestPain    = 4
	criticalComorbidity  = 3
	mildSystolic         = 140
	mildDiastolic        = 90
	chronicBurdenMinimum = 2
)

var riskRules = []riskRule{
	{
		group:  GroupAge,
		when:   func(f *NormalizedFeatures) bool { return f.Age > seniorAge },
		weight: fixed(0.15),
		label:  func(f *NormalizedFeatures) string { return "Age " + num(f.Age) },
	},
	{
		group:  GroupSymptom,
		when:   func(f *NormalizedFeatures) bool { return f.ChestPainSeverity > 0 },
		weight: func(f *NormalizedFeatures) float64 { return 0.12 * float64(f.ChestPainSeverity) },
		label:  func(f *NormalizedFeatures) string { return "Sx: " + f.ChestSymptom },
	},
	{
		group:  GroupSymptom,
		when:   func(f *NormalizedFeatures) bool { return f.RespiratorySeverity > 0 },
		weight: func(f *NormalizedFeatures) float64 { return 0.08 * float64(f.RespiratorySeverity) },
		label:  func(f *NormalizedFeatures) string { return "Sx: " + f.RespiratorySymptom },
	},
	{
		group:  GroupSymptom,
		when:   func(f *NormalizedFeatures) bool { return f.MaxSeverity > minSeverity },
		weight: func(f *NormalizedFeatures) float64 { return 0.05 * float64(f.MaxSeverity-minSeverity) },
		label:  func(f *NormalizedFeatures) string { return "Max severity " + strconv.Itoa(f.MaxSeverity) },
	},
	{
		group:  GroupVitals,
		when:   func(f *NormalizedFeatures) bool { return f.BPSystolic > elevatedSystolic },
		weight: fixed(0.25),
		label:  func(f *NormalizedFeatures) string { return "BP " + strconv.Itoa(f.BPSystolic) },
	},
	{
		group:  GroupVitals,
		when:   func(f *NormalizedFeatures) bool { return f.HeartRate > elevatedHeartRate },
		weight: fixed(0.10),
		label:  func(f *NormalizedFeatures) string { return "HR " + strconv.Itoa(f.HeartRate) },
	},
	{
		group:  GroupVitals,
		when:   func(f *NormalizedFeatures) bool { return f.Temperature >= feverTemperature },
		weight: fixed(0.05),
		label:  func(f *NormalizedFeatures) string { return "Temp " + num(f.Temperature) },
	},
	{
		group:  GroupHistory,
		when:   func(f *NormalizedFeatures) bool { return f.CardiacHistory == 1 },
		weight: fixed(0.15),
		label:  func(f *NormalizedFeatures) string { return "Hx: " + f.CardiacCondition },
	},
	{
		group:  GroupHistory,
		when:   func(f *NormalizedFeatures) bool { return f.RespiratoryHistory == 1 },
		weight: fixed(0.10),
		label:  func(f *NormalizedFeatures) string { return "Hx: " + f.RespiratoryCond },
	},
	{
		group:  GroupHistory,
		when:   func(f *NormalizedFeatures) bool { return f.DiabetesStatus > 0 },
		weight: fixed(0.05),
		label:  func(*NormalizedFeatures) string { return "Hx: diabetes" },
	},
	{
		group:  GroupHistory,
		when:   func(f *NormalizedFeatures) bool { return f.ComorbiditiesCount > 0 },
		weight: func(f *NormalizedFeatures) float64 { return 0.03 * float64(f.ComorbiditiesCount) },
		label:  func(f *NormalizedFeatures) string { return "Comorbidities " + strconv.Itoa(f.ComorbiditiesCount) },
	},
	{
		group:  GroupHistory,
		when:   func(f *NormalizedFeatures) bool { return f.ChronicConditions > 0 },
		weight: func(f *NormalizedFeatures) float64 { return 0.02 * float64(f.ChronicConditions) },
		label:  func(f *NormalizedFeatures) string { return "Chronic conditions " + strconv.Itoa(f.ChronicConditions) },
	},
}

// overrideRules are clinical red flags that force High risk.
var overrideRules = []overrideRule{
	{
		when:  func(f *NormalizedFeatures) bool { return f.MaxSeverity == maxSeverity },
		label: func(*NormalizedFeatures) string { return "Max severity 5" },
	},
	{
		when: func(f *NormalizedFeatures) bool {
			return f.ChestPainSeverity >= criticalChestPain && f.CardiacHistory == 1
		},
		label: func(f *NormalizedFeatures) string {
			return fmt.Sprintf("Chest pain %d with cardiac history", f.ChestPainSeverity)
		},
	},
	{
		when: func(f *NormalizedFeatures) bool {
			return f.BPSystolic >= criticalSystolic || f.BPDiastolic >= criticalDiastolic
		},
		label: func(f *NormalizedFeatures) string { return fmt.Sprintf("BP %d/%d", f.BPSystolic, f.BPDiastolic) },
	},
	{
		when:  func(f *NormalizedFeatures) bool { return f.HeartRate >= criticalHeartRate },
		label: func(f *NormalizedFeatures) string { return "HR " + strconv.Itoa(f.HeartRate) },
	},
	{
		when: func(f *NormalizedFeatures) bool {
			return f.ComorbiditiesCount >= criticalComorbidity && elevatedVitals(f)
		},
		label: func(f *NormalizedFeatures) string {
			return fmt.Sprintf("%d comorbidities with elevated vitals", f.ComorbiditiesCount)
		},
	},
}

var departmentBaseline = []deptWeight{
	{Emergency, 0.1},
	{Cardiology, 0.1},
	{Respiratory, 0.1},
	{Neurology, 0.1},
	{GeneralMedicine, 0.2},
	{Orthopedics, 0.1},
}

// vitalsDeptRules and historyDeptRules are the non-text department rules.
var vitalsDeptRules = []deptRule{
	{
		when:    func(f *NormalizedFeatures) bool { return f.BPSystolic > elevatedSystolic },
		label:   func(f *NormalizedFeatures) string { return "BP " + strconv.Itoa(f.BPSystolic) },
		weights: []deptWeight{{Emergency, 0.2}, {Cardiology, 0.3}},
	},
	{
		when:    func(f *NormalizedFeatures) bool { return f.HeartRate > elevatedHeartRate },
		label:   func(f *NormalizedFeatures) string { return "HR " + strconv.Itoa(f.HeartRate) },
		weights: []deptWeight{{Emergency, 0.1}, {Cardiology, 0.15}},
	},
	{
		when:    func(f *NormalizedFeatures) bool { return f.Temperature >= feverTemperature },
		label:   func(f *NormalizedFeatures) string { return "Temp " + num(f.Temperature) },
		weights: []deptWeight{{GeneralMedicine, 0.15}, {Respiratory, 0.05}},
	},
}

var historyDeptRules = []deptRule{
	{
		when:    func(f *NormalizedFeatures) bool { return f.CardiacHistory == 1 },
		label:   func(f *NormalizedFeatures) string { return "Hx: " + f.CardiacCondition },
		weights: []deptWeight{{Cardiology, 0.3}},
	},
	{
		when:    func(f *NormalizedFeatures) bool { return f.RespiratoryHistory == 1 },
		label:   func(f *NormalizedFeatures) string { return "Hx: " + f.RespiratoryCond },
		weights: []deptWeight{{Respiratory, 0.3}},
	},
	{
		when:    func(f *NormalizedFeatures) bool { return f.DiabetesStatus > 0 },
		label:   func(*NormalizedFeatures) string { return "Hx: diabetes" },
		weights: []deptWeight{{GeneralMedicine, 0.1}, {Cardiology, 0.05}},
	},
	{
		when:    func(f *NormalizedFeatures) bool { return f.ChronicConditions >= chronicBurdenMinimum },
		label:   func(f *NormalizedFeatures) string { return "Chronic conditions " + strconv.Itoa(f.ChronicConditions) },
		weights: []deptWeight{{GeneralMedicine, 0.1}},
	},
}

// criticalRouting is added to Emergency once when any safety override fires.
var criticalRouting = deptWeight{Emergency, 0.3}

var keywordGroups = []keywordGroup{
	{
		name:     "cardiac",
		keywords: []string{"chest", "heart", "pain", "palpitation", "angina"},
		weights:  []deptWeight{{Cardiology, 0.5}, {Emergency, 0.2}},
	},
	{
		name:     "respiratory",
		keywords: []string{"breath", "cough", "wheez"},
		weights:  []deptWeight{{Respiratory, 0.5}, {Emergency, 0.15}},
	},
	{
		name:     "neurological",
		keywords: []string{"headache", "dizz", "seizure", "consciousness", "stroke", "numb", "faint", "confusion", "skull", "head injury"},
		weights:  []deptWeight{{Neurology, 0.5}},
	},
	{
		name:     "musculoskeletal",
		keywords: []string{"fracture", "joint", "bone", "sprain", "dislocat"},
		weights:  []deptWeight{{Orthopedics, 0.5}},
	},
	{
		name:     "critical",
		keywords: []string{"consciousness", "unconscious", "seizure", "stroke", "skull", "trauma", "bleeding", "collapse", "overdose"},
		weights:  []deptWeight{{Emergency, 0.5}},
	},
	{
		name:     "general",
		keywords: []string{"fever", "nausea", "vomit", "fatigue", "rash", "flu"},
		weights:  []deptWeight{{GeneralMedicine, 0.3}},
	},
}

func elevatedVitals(f *NormalizedFeatures) bool {
	return f.BPSystolic > mildSystolic ||
		f.BPDiastolic > mildDiastolic ||
		f.HeartRate > elevatedHeartRate ||
		f.Temperature >= feverTemperature
}

func fixed(w float64) func(*NormalizedFeatures) float64 {
	return func(*NormalizedFeatures) float64 { return w }
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func matchingGroups(text string) []keywordGroup {
	text = strings.ToLower(text)
	var out []keywordGroup
	for _, g := range keywordGroups {
		if containsAny(text, g.keywords) {
			out = append(out, g)
		}
	}
	return out
}
