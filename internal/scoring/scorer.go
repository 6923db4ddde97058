package scoring

import (
	"fmt"
	"math"
	"strconv"

	"studentrisk/internal/features"
)

// Result is everything persisted for one student.
type Result struct {
	Score           float64
	Tier            Tier
	AttendanceScore float64
	GradeScore      float64
	SubmissionScore float64
	EngagementScore float64
	Factors         []string
	Features        features.Vector
}

type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score combines the feature vector into the weighted success score.
// Higher is better.
func (s *Scorer) Score(v features.Vector) Result {
	att := v.Attendance.Percentage
	grade := v.Performance.AvgGradeCurrent
	sub := v.Completion.SubmissionRate
	eng := math.Min(float64(v.Engagement.LoginsLast7d)*engagementPerLogin, maxSubScore)

	w := s.cfg.Weights
	score := round2(w.Attendance*att + w.Grade*grade + w.Submission*sub + w.Engagement*eng)

	return Result{
		Score:           score,
		Tier:            s.cfg.Tier(score),
		AttendanceScore: att,
		GradeScore:      grade,
		SubmissionScore: sub,
		EngagementScore: eng,
		Factors:         riskFactors(v, att, grade, sub),
		Features:        v,
	}
}

// riskFactors lists every applicable factor in a fixed order.
func riskFactors(v features.Vector, att, grade, sub float64) []string {
	factors := make([]string, 0, 7)
	if att < lowAttendanceBelow {
		factors = append(factors, "Low attendance ("+formatPct(att)+"%)")
	}
	if grade < lowGradeBelow {
		factors = append(factors, "Available grades low ("+formatPct(grade)+"%)")
	}
	if v.Performance.GradeTrend == features.TrendDeclining {
		factors = append(factors, "Grades declining")
	}
	if v.Attendance.ConsecutiveAbsences >= absenceStreakAtLeast {
		factors = append(factors, fmt.Sprintf("Consecutive absences (%d)", v.Attendance.ConsecutiveAbsences))
	}
	if sub < lowSubmissionBelow {
		factors = append(factors, "Missing assignments")
	}
	if v.Engagement.DaysSinceLogin > inactiveAfterDays {
		factors = append(factors, fmt.Sprintf("Inactive for %d days", v.Engagement.DaysSinceLogin))
	}
	if v.Performance.Volatility == features.VolatilityInconsistent {
		factors = append(factors, "Inconsistent performance")
	}
	return factors
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
