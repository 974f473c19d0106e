package triage

// Config holds the tunable constants of the engine.
type Config struct {
	BaseRisk        float64 // starting risk score before any rule
	ScoreCeiling    float64 // clamp for risk and department scores
	HighThreshold   float64 // risk score strictly above this is High
	MediumThreshold float64 // risk score strictly above this is Medium
	OverrideFloor   float64 // minimum risk score when a safety override fires
	QueueThreshold  float64 // department score at or above this is recommended
	ClarityGap      float64 // top-vs-second department gap that counts as fully clear
	ComplaintFactor float64 // weight of chief-complaint matches relative to symptoms
}

// DefaultConfig returns the production rule constants.
func DefaultConfig() Config {
	return Config{
		BaseRisk:        0.1,
		ScoreCeiling:    0.99,
		HighThreshold:   0.70,
		MediumThreshold: 0.40,
		OverrideFloor:   0.75,
		QueueThreshold:  0.35,
		ClarityGap:      0.30,
		ComplaintFactor: 0.6,
	}
}

// Input defaults applied by Normalize.
const (
	DefaultAge            = 40
	DefaultGender         = GenderMale
	DefaultSystolic       = 120
	DefaultDiastolic      = 80
	DefaultHeartRate      = 80
	DefaultTemperature    = 98.6
	DefaultChiefComplaint = "general"

	maxPlausibleAge = 130
	minSeverity     = 1
	maxSeverity     = 5

	// Readings above these caps are clamped to the cap. All rule thresholds
	// sit below them, so clamping never turns a firing rule off.
	maxSystolic    = 350
	maxDiastolic   = 250
	maxHeartRate   = 350
	maxTemperature = 115.0
)
