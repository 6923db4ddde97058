package features

import "math"

const (
	// GradeWindow is how many of the newest graded records feed the features.
	GradeWindow = 10

	recentGrades       = 3
	olderGradesEnd     = 6
	volatilityStdLimit = 15.0
)

// ExtractPerformance computes grade features from records ordered newest first.
// Records that cannot be converted to a percentage are skipped; with nothing
// convertible every number is zero.
func ExtractPerformance(records []GradeRecord) PerformanceFeatures {
	if len(records) > GradeWindow {
		records = records[:GradeWindow]
	}

	pcts := make([]float64, 0, len(records))
	for _, r := range records {
		if r.Max <= 0 || math.IsNaN(r.Max) || math.IsInf(r.Max, 0) {
			continue
		}
		if math.IsNaN(r.Obtained) || math.IsInf(r.Obtained, 0) {
			continue
		}
		pcts = append(pcts, r.Obtained*100/r.Max)
	}

	if len(pcts) == 0 {
		return PerformanceFeatures{
			GradeTrend: TrendStable,
			Volatility: VolatilityStable,
		}
	}

	newest := mean(pcts[:min(recentGrades, len(pcts))])
	older := newest
	if len(pcts) > recentGrades {
		older = mean(pcts[recentGrades:min(olderGradesEnd, len(pcts))])
	}

	avg := mean(pcts)
	std := round2(populationStdDev(pcts, avg))
	volatility := VolatilityStable
	if std > volatilityStdLimit {
		volatility = VolatilityInconsistent
	}

	return PerformanceFeatures{
		AvgGradeCurrent: round2(avg),
		Last3Avg:        round1(newest),
		GradeTrend:      compareTrend(newest, older),
		Volatility:      volatility,
		StdDev:          std,
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStdDev(values []float64, avg float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - avg
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
