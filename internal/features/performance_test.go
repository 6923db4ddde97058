package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// grades builds records newest first from raw percentages out of 100.
func grades(pcts ...float64) []GradeRecord {
	out := make([]GradeRecord, 0, len(pcts))
	for i, p := range pcts {
		out = append(out, GradeRecord{Obtained: p, Max: 100, GradedAt: refNow.Add(-time.Duration(i) * 24 * time.Hour)})
	}
	return out
}

func TestExtractPerformanceNoData(t *testing.T) {
	tests := []struct {
		name    string
		records []GradeRecord
	}{
		{name: "no records"},
		{name: "only zero max", records: []GradeRecord{{Obtained: 5, Max: 0}, {Obtained: 3, Max: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPerformance(tt.records)
			assert.Equal(t, PerformanceFeatures{GradeTrend: TrendStable, Volatility: VolatilityStable}, got)
		})
	}
}

func TestExtractPerformanceTrendBoundary(t *testing.T) {
	tests := []struct {
		name string
		pcts []float64
		want string
	}{
		{name: "exactly five points", pcts: []float64{80, 80, 80, 75, 75, 75}, want: TrendStable},
		{name: "just over five points", pcts: []float64{80.01, 80.01, 80.01, 75, 75, 75}, want: TrendImproving},
		{name: "exactly five points down", pcts: []float64{75, 75, 75, 80, 80, 80}, want: TrendStable},
		{name: "five points between one-decimal means", pcts: []float64{64.1, 64.1, 64.1, 59.1, 59.1, 59.1}, want: TrendStable},
		{name: "five points down between one-decimal means", pcts: []float64{59.1, 59.1, 59.1, 64.1, 64.1, 64.1}, want: TrendStable},
		{name: "uneven window summing to five", pcts: []float64{66.3, 62.2, 63.8, 59.1, 59.1, 59.1}, want: TrendStable},
		{name: "one hundredth over five", pcts: []float64{64.12, 64.12, 64.12, 59.11, 59.11, 59.11}, want: TrendImproving},
		{name: "one hundredth under minus five", pcts: []float64{59.09, 59.09, 59.09, 64.1, 64.1, 64.1}, want: TrendDeclining},
		{name: "declining", pcts: []float64{60, 62, 58, 80, 75, 70}, want: TrendDeclining},
		{name: "older window empty", pcts: []float64{90, 20}, want: TrendStable},
		{name: "older than position six ignored", pcts: []float64{70, 70, 70, 70, 70, 70, 10, 10, 10}, want: TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPerformance(grades(tt.pcts...))
			assert.Equal(t, tt.want, got.GradeTrend)
		})
	}
}

func TestExtractPerformanceVolatility(t *testing.T) {
	tests := []struct {
		name    string
		pcts    []float64
		want    string
		wantStd float64
	}{
		{name: "std exactly 15", pcts: []float64{85, 55}, want: VolatilityStable, wantStd: 15},
		{name: "std just over 15", pcts: []float64{85.01, 54.99}, want: VolatilityInconsistent, wantStd: 15.01},
		{name: "std 15 around a one-decimal mean", pcts: []float64{50.2, 20.2}, want: VolatilityStable, wantStd: 15},
		{name: "std 15 around a low mean", pcts: []float64{35.2, 5.2}, want: VolatilityStable, wantStd: 15},
		{name: "flat", pcts: []float64{70, 70, 70}, want: VolatilityStable, wantStd: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPerformance(grades(tt.pcts...))
			assert.Equal(t, tt.want, got.Volatility)
			assert.Equal(t, tt.wantStd, got.StdDev)
		})
	}
}

func TestExtractPerformanceOneDecimalSweep(t *testing.T) {
	for tenths := 500; tenths < 1000; tenths++ {
		n := float64(tenths) / 10
		older := float64(tenths-50) / 10

		up := ExtractPerformance(grades(n, n, n, older, older, older))
		assert.Equal(t, TrendStable, up.GradeTrend, "newest %.1f older %.1f", n, older)
		down := ExtractPerformance(grades(older, older, older, n, n, n))
		assert.Equal(t, TrendStable, down.GradeTrend, "newest %.1f older %.1f", older, n)

		spread := ExtractPerformance(grades(n-15, n-45))
		if spread.StdDev == 15 {
			assert.Equal(t, VolatilityStable, spread.Volatility, "pcts %.1f %.1f", n-15, n-45)
		}
	}
}

func TestExtractPerformanceAverages(t *testing.T) {
	records := grades(90, 80, 70, 60, 50, 40, 30, 20, 10, 0, 100, 100)
	records = append([]GradeRecord{{Obtained: 1, Max: 0}}, records...)

	got := ExtractPerformance(records)

	// the window is cut before conversion, so only nine usable records remain
	assert.Equal(t, 50.0, got.AvgGradeCurrent)
	assert.Equal(t, 80.0, got.Last3Avg)
	assert.Equal(t, TrendImproving, got.GradeTrend)
	assert.Equal(t, 25.82, got.StdDev)
	assert.Equal(t, VolatilityInconsistent, got.Volatility)
}

func TestExtractPerformanceScalesByMax(t *testing.T) {
	got := ExtractPerformance([]GradeRecord{{Obtained: 15, Max: 20}, {Obtained: 30, Max: 40}})
	assert.Equal(t, 75.0, got.AvgGradeCurrent)
	assert.Equal(t, 75.0, got.Last3Avg)

	// Bonus marks are not capped at 100%.
	got = ExtractPerformance([]GradeRecord{{Obtained: 55, Max: 50}, {Obtained: 45, Max: 50}})
	assert.Equal(t, 100.0, got.AvgGradeCurrent)
	assert.Equal(t, 10.0, got.StdDev)

	got = ExtractPerformance([]GradeRecord{{Obtained: 40, Max: 0}, {Obtained: math.NaN(), Max: 50}, {Obtained: 30, Max: 50}})
	assert.Equal(t, 60.0, got.AvgGradeCurrent)
}
