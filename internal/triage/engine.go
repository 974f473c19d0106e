package triage

import (
	"fmt"
	"math"

	"github.com/linnemanlabs/go-core/xerrors"
)

// Engine runs the triage rules. It is immutable after construction and safe
// for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given rule constants.
func NewEngine(cfg Config) *Engine {
	if cfg.ScoreCeiling <= 0 || cfg.ScoreCeiling > 1 {
		panic(xerrors.New("score ceiling must be in (0,1]"))
	}
	if cfg.MediumThreshold >= cfg.HighThreshold {
		panic(xerrors.New("medium threshold must be below high threshold"))
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine's rule constants.
func (e *Engine) Config() Config {
	return e.cfg
}

// Predict scores a visit. It always returns a structurally complete Prediction.
func (e *Engine) Predict(raw VisitFeatures) *Prediction {
	f := Normalize(raw)
	return e.PredictNormalized(&f, raw.VisitID)
}

// PredictNormalized scores already-normalized features.
func (e *Engine) PredictNormalized(f *NormalizedFeatures, visitID string) *Prediction {
	ex := newExplainer(e.cfg.BaseRisk)

	risk := scoreRisk(e.cfg, f, ex)
	scores := scoreDepartments(e.cfg, f, risk.overrides, ex)
	mustBeFixedSet(scores)

	recommended := Select(scores, e.cfg.QueueThreshold)
	critical := len(risk.overrides) > 0

	return &Prediction{
		VisitID:                visitID,
		RiskLevel:              risk.level,
		RiskScore:              risk.score,
		DepartmentScores:       scores,
		RecommendedDepartments: recommended,
		PrimaryDepartment:      recommended[0],
		Explainability:         ex.build(),
		Confidence:             estimateConfidence(e.cfg, f, scores, critical),
	}
}

// mustBeFixedSet panics if scores is not exactly the fixed department set.
// Callers rely on every department being present, so a mismatch is a defect
// in the rule tables rather than a recoverable condition.
func mustBeFixedSet(scores map[Department]float64) {
	if len(scores) != len(Departments) {
		panic(xerrors.New(fmt.Sprintf("department scores has %d keys, want %d", len(scores), len(Departments))))
	}
	for d := range scores {
		if priority(d) == len(Departments) {
			panic(xerrors.New(fmt.Sprintf("unknown department %q in scores", d)))
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
