package triage

import (
	"math"
	"sort"
)

// Select turns department scores into an ordered recommendation list.
// Departments scoring at or above threshold are returned by descending score,
// ties broken by Departments order. When nothing clears the threshold the
// single best department is returned, which on an exact tie is the one that
// comes first in Departments (Emergency first).
//
// The first element is the primary department. The result is never empty for
// a non-empty score map.
func Select(scores map[Department]float64, threshold float64) []Department {
	ranked := make([]Department, 0, len(scores))
	for d := range scores {
		ranked = append(ranked, d)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i]], scores[ranked[j]]
		if si != sj {
			return si > sj
		}
		return priority(ranked[i]) < priority(ranked[j])
	})

	var out []Department
	for _, d := range ranked {
		if scores[d] >= threshold {
			out = append(out, d)
		}
	}
	if len(out) == 0 && len(ranked) > 0 {
		out = ranked[:1:1]
	}
	return out
}

// decisionClarity maps the gap between the two best department scores onto
// [0,1]; a gap of fullGap or more is fully clear.
func decisionClarity(scores map[Department]float64, fullGap float64) float64 {
	top, second := math.Inf(-1), math.Inf(-1)
	for _, s := range scores {
		switch {
		case s > top:
			top, second = s, top
		case s > second:
			second = s
		}
	}
	if math.IsInf(second, -1) || fullGap <= 0 {
		return 1
	}
	return clamp((top-second)/fullGap, 0, 1)
}
