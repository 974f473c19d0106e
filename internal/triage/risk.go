package triage

// riskResult is the RiskScorer output before rounding.
type riskResult struct {
	score     float64 // post-override, post-clamp
	level     RiskLevel
	overrides []string
}

// scoreRisk sums the additive risk rules, then applies the safety overrides
// as a floor. Overrides only ever raise the score.
func scoreRisk(cfg Config, f *NormalizedFeatures, ex *explainer) riskResult {
	for _, r := range riskRules {
		if r.when(f) {
			ex.risk(r.group, r.label(f), r.weight(f))
		}
	}

	var fired []string
	for _, o := range overrideRules {
		if o.when(f) {
			label := o.label(f)
			fired = append(fired, label)
			ex.override(label)
		}
	}

	score := ex.additive()
	if len(fired) > 0 && score < cfg.OverrideFloor {
		ex.lift(cfg.OverrideFloor - score)
		score = cfg.OverrideFloor
	}

	score = round(clamp(score, 0, cfg.ScoreCeiling), 2)
	level := cfg.level(score)
	if len(fired) > 0 {
		level = RiskHigh
	}

	return riskResult{score: score, level: level, overrides: fired}
}

// level maps a final score to a RiskLevel. Both thresholds are exclusive.
func (c Config) level(score float64) RiskLevel {
	switch {
	case score > c.HighThreshold:
		return RiskHigh
	case score > c.MediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}
