package features

import (
	"math"
	"time"
)

// DaysSinceLoginUnknown is reported when neither a login nor any other
// activity was ever recorded.
const DaysSinceLoginUnknown = 999

// ExtractEngagement computes login recency and frequency.
//
// When no login exists the last known activity stands in for it. If that
// activity is within a week and the tally is zero, the tally is raised to one.
func ExtractEngagement(stats LoginStats, now time.Time) EngagementFeatures {
	out := EngagementFeatures{
		LoginsLast7d:  stats.Count7d,
		LoginsLast14d: stats.Count14d,
	}

	last := stats.LastLoginAt
	fallback := false
	if last == nil && stats.LastActivityAt != nil {
		last = stats.LastActivityAt
		fallback = true
	}
	if last == nil {
		out.DaysSinceLogin = DaysSinceLoginUnknown
		return out
	}

	seen := last.UTC()
	out.LastLogin = &seen
	days := int(math.Floor(now.Sub(seen).Hours() / 24))
	if days < 0 {
		days = 0
	}
	out.DaysSinceLogin = days

	if fallback && days <= 7 && out.LoginsLast7d == 0 {
		out.LoginsLast7d = 1
		if out.LoginsLast14d < out.LoginsLast7d {
			out.LoginsLast14d = out.LoginsLast7d
		}
	}
	return out
}
