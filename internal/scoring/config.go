package scoring

// Weights are the composite weights of each 0–100 sub-score.
type Weights struct {
	Attendance float64
	Grade      float64
	Submission float64
	Engagement float64
}

// Config is the immutable rule set a Scorer is built with.
type Config struct {
	Weights Weights

	// StarThreshold is inclusive; AtRiskThreshold is exclusive.
	StarThreshold   float64
	AtRiskThreshold float64
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Attendance: 0.40,
			Grade:      0.40,
			Submission: 0.10,
			Engagement: 0.10,
		},
		StarThreshold:   75,
		AtRiskThreshold: 45,
	}
}

// Tier is the band a score falls in.
type Tier string

const (
	TierStar   Tier = "Star"
	TierSafe   Tier = "Safe"
	TierAtRisk Tier = "At Risk"
)

// Tier evaluates Star before At Risk, so a misconfigured overlap favours Star.
func (c Config) Tier(score float64) Tier {
	switch {
	case score >= c.StarThreshold:
		return TierStar
	case score < c.AtRiskThreshold:
		return TierAtRisk
	default:
		return TierSafe
	}
}

// Factor thresholds are fixed business rules rather than configuration.
const (
	lowAttendanceBelow   = 75.0
	lowGradeBelow        = 50.0
	absenceStreakAtLeast = 3
	lowSubmissionBelow   = 70.0
	inactiveAfterDays    = 14

	engagementPerLogin = 20.0
	maxSubScore        = 100.0
)
