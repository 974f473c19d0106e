package triage

import "strings"

// scoreDepartments computes an independent score for every department. Each
// rule group adds to any number of departments; only the final value is
// clamped.
func scoreDepartments(cfg Config, f *NormalizedFeatures, overrides []string, ex *explainer) map[Department]float64 {
	raw := make(map[Department]float64, len(Departments))
	add := func(label string, ws []deptWeight, scale float64) {
		for _, w := range ws {
			v := w.weight * scale
			raw[w.dept] += v
			ex.dept(w.dept, label, v)
		}
	}

	add("Baseline", departmentBaseline, 1)

	for _, r := range vitalsDeptRules {
		if r.when(f) {
			add(r.label(f), r.weights, 1)
		}
	}

	for _, s := range f.Symptoms {
		scale := float64(s.Severity) / maxSeverity
		for _, g := range matchingGroups(s.Match) {
			add("Sx: "+s.Match, g.weights, scale)
		}
	}

	for _, r := range historyDeptRules {
		if r.when(f) {
			add(r.label(f), r.weights, 1)
		}
	}

	if f.Present.ChiefComplaint {
		cc := strings.ToLower(f.ChiefComplaint)
		for _, g := range matchingGroups(cc) {
			add("CC: "+cc, g.weights, cfg.ComplaintFactor)
		}
	}

	if len(overrides) > 0 {
		add("Critical: "+strings.Join(overrides, "; "), []deptWeight{criticalRouting}, 1)
	}

	scores := make(map[Department]float64, len(Departments))
	for _, d := range Departments {
		scores[d] = round(clamp(raw[d], 0, cfg.ScoreCeiling), 3)
	}
	return scores
}
