package features

import (
	"sort"
	"time"
)

const (
	recentWindowDays   = 14
	previousWindowDays = 28
)

type bucket struct {
	present int
	total   int
}

func (b bucket) pct(fallback float64) float64 {
	if b.total == 0 {
		return fallback
	}
	return float64(b.present) * 100 / float64(b.total)
}

// ExtractAttendance computes attendance features from the normalized table.
// Only entries whose subject is in subjectIDs are considered.
//
// Totals and the trend buckets are pooled across subjects while the absence
// streak is the worst trailing streak of any single subject.
func ExtractAttendance(entries []AttendanceEntry, subjectIDs []uint, now time.Time) AttendanceFeatures {
	enrolled := make(map[uint]struct{}, len(subjectIDs))
	for _, id := range subjectIDs {
		enrolled[id] = struct{}{}
	}

	rows := make([]AttendanceEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := enrolled[e.SubjectID]; !ok {
			continue
		}
		if e.Status == StatusUnmarked || e.Date.IsZero() {
			continue
		}
		rows = append(rows, e)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SubjectID != rows[j].SubjectID {
			return rows[i].SubjectID < rows[j].SubjectID
		}
		return dateOnly(rows[i].Date).Before(dateOnly(rows[j].Date))
	})

	var all, recent, previous bucket
	maxStreak := 0
	streak := 0
	for i, e := range rows {
		if i > 0 && rows[i-1].SubjectID != e.SubjectID {
			streak = 0
		}

		present := e.Status == StatusPresent || e.Status == StatusLate
		all.total++
		if present {
			all.present++
		}

		age := daysBetween(now, e.Date)
		switch {
		case age >= 0 && age <= recentWindowDays:
			recent.total++
			if present {
				recent.present++
			}
		case age > recentWindowDays && age <= previousWindowDays:
			previous.total++
			if present {
				previous.present++
			}
		}

		switch {
		case e.Status == StatusAbsent:
			streak++
		case present:
			streak = 0
		}
		// the value kept is the one standing at the end of each subject's walk
		if i == len(rows)-1 || rows[i+1].SubjectID != e.SubjectID {
			if streak > maxStreak {
				maxStreak = streak
			}
		}
	}

	pct := all.pct(100)
	recentPct := recent.pct(pct)
	previousPct := previous.pct(pct)

	return AttendanceFeatures{
		Percentage:          round2(pct),
		SessionsTotal:       all.total,
		SessionsPresent:     all.present,
		Trend:               compareTrend(recentPct, previousPct),
		ConsecutiveAbsences: maxStreak,
		RecentPct:           round2(recentPct),
	}
}
