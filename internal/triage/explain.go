package triage

// Group is a risk rule group. Each group has its own subtotal in ScoreBreakdown.
type Group string

const (
	GroupSymptom Group = "symptom"
	GroupVitals  Group = "vitals"
	GroupHistory Group = "history"
	GroupAge     Group = "age"
)

// explainer accumulates factor weights while the scorers run. One explainer
// is owned by one Predict call.
type explainer struct {
	riskFactors map[string]float64
	reasoning   map[Department]map[string]float64
	breakdown   ScoreBreakdown
	overrides   []string
}

func newExplainer(baseRisk float64) *explainer {
	ex := &explainer{
		riskFactors: make(map[string]float64),
		reasoning:   make(map[Department]map[string]float64, len(Departments)),
	}
	ex.breakdown.Base = baseRisk
	for _, d := range Departments {
		ex.reasoning[d] = make(map[string]float64)
	}
	return ex
}

// risk records a contribution to the overall risk score.
func (ex *explainer) risk(g Group, label string, w float64) {
	if w == 0 {
		return
	}
	ex.riskFactors[label] += w
	switch g {
	case GroupSymptom:
		ex.breakdown.Symptom += w
	case GroupVitals:
		ex.breakdown.Vitals += w
	case GroupHistory:
		ex.breakdown.History += w
	case GroupAge:
		ex.breakdown.Age += w
	}
}

// override records a fired safety override and the lift it applied.
func (ex *explainer) override(label string) {
	ex.overrides = append(ex.overrides, label)
}

func (ex *explainer) lift(w float64) {
	if w <= 0 {
		return
	}
	ex.riskFactors["Safety floor"] += w
	ex.breakdown.Override += w
}

// dept records a contribution to a department score.
func (ex *explainer) dept(d Department, label string, w float64) {
	if w == 0 {
		return
	}
	ex.reasoning[d][label] += w
}

// additive returns the pre-override risk total.
func (ex *explainer) additive() float64 {
	b := ex.breakdown
	return b.Base + b.Symptom + b.Vitals + b.History + b.Age
}

func (ex *explainer) build() Explainability {
	b := ex.breakdown
	b.Total = b.Base + b.Symptom + b.Vitals + b.History + b.Age + b.Override
	reasoning := make(map[Department]map[string]float64, len(ex.reasoning))
	for d, m := range ex.reasoning {
		reasoning[d] = roundWeights(m)
	}
	return Explainability{
		RiskFactors:         roundWeights(ex.riskFactors),
		DepartmentReasoning: reasoning,
		ScoreBreakdown:      roundBreakdown(b),
		SafetyOverrides:     ex.overrides,
	}
}

func roundBreakdown(b ScoreBreakdown) ScoreBreakdown {
	return ScoreBreakdown{
		Base:     round(b.Base, 4),
		Symptom:  round(b.Symptom, 4),
		Vitals:   round(b.Vitals, 4),
		History:  round(b.History, 4),
		Age:      round(b.Age, 4),
		Override: round(b.Override, 4),
		Total:    round(b.Total, 4),
	}
}

func roundWeights(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = round(v, 4)
	}
	return out
}
