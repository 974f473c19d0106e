package triage

// sparseDataCompleteness is the completeness below which a critical case is
// flagged for human review.
const sparseDataCompleteness = 0.5

// estimateConfidence derives meta-confidence from input completeness and the
// department score distribution.
func estimateConfidence(cfg Config, f *NormalizedFeatures, scores map[Department]float64, critical bool) Confidence {
	completeness := float64(f.Present.Count()) / 4
	clarity := decisionClarity(scores, cfg.ClarityGap)

	c := Confidence{
		DataCompleteness:      round(completeness, 3),
		DecisionClarity:       round(clarity, 3),
		HasCriticalIndicators: critical,
	}

	overall := (completeness + clarity) / 2
	if critical && completeness < sparseDataCompleteness {
		overall *= 0.75
		c.ReviewRecommended = true
	}
	c.Overall = round(overall, 3)
	return c
}
