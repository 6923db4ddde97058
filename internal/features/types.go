package features

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Trend and volatility labels shared by the extractors.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"

	VolatilityStable       = "stable"
	VolatilityInconsistent = "inconsistent"
)

// Student identifies one active student for the duration of a run.
type Student struct {
	ID           uint
	ExternalCode string
	Email        string
	DisplayName  string
}

// Code returns the external student code, falling back to the email.
func (s Student) Code() string {
	if c := strings.TrimSpace(s.ExternalCode); c != "" {
		return c
	}
	return strings.TrimSpace(s.Email)
}

// Label is used when logging per-student outcomes.
func (s Student) Label() string {
	code := s.Code()
	if code == "" {
		code = "#" + strconv.FormatUint(uint64(s.ID), 10)
	}
	if s.DisplayName == "" {
		return code
	}
	return code + " (" + s.DisplayName + ")"
}

// AttendanceStatus is the value of one attendance cell.
type AttendanceStatus string

const (
	StatusPresent  AttendanceStatus = "present"
	StatusAbsent   AttendanceStatus = "absent"
	StatusLate     AttendanceStatus = "late"
	StatusExcused  AttendanceStatus = "excused"
	StatusUnmarked AttendanceStatus = "unmarked"
)

// ParseAttendanceStatus accepts the long names and their single letter codes.
// Blank cells and "-" are unmarked. The second return is false for anything
// else, which callers treat as a malformed cell.
func ParseAttendanceStatus(raw string) (AttendanceStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "p", "present":
		return StatusPresent, true
	case "a", "absent":
		return StatusAbsent, true
	case "l", "late":
		return StatusLate, true
	case "e", "excused":
		return StatusExcused, true
	case "", "-", "u", "unmarked":
		return StatusUnmarked, true
	default:
		return "", false
	}
}

// AttendanceEntry is one row of the normalized (subject, date, status) table.
type AttendanceEntry struct {
	SubjectID uint
	Date      time.Time
	Status    AttendanceStatus
}

// GradeRecord is a graded evaluation component with a non-null mark.
type GradeRecord struct {
	Obtained float64
	Max      float64
	GradedAt time.Time
}

// LoginStats is the windowed login tally for one student. LastActivityAt is
// an optional secondary signal used only when no login was ever recorded.
type LoginStats struct {
	LastLoginAt    *time.Time
	Count7d        int
	Count14d       int
	LastActivityAt *time.Time
}

// CompletionTally counts expected and submitted components over active
// enrollments. The submission pair is nil when that facility is unavailable.
type CompletionTally struct {
	Expected         int
	Submitted        int
	TotalSubmissions *int
	LateSubmissions  *int
}

type AttendanceFeatures struct {
	Percentage          float64 `json:"percentage"`
	SessionsTotal       int     `json:"sessions_total"`
	SessionsPresent     int     `json:"sessions_present"`
	Trend               string  `json:"trend"`
	ConsecutiveAbsences int     `json:"consecutive_absences"`
	RecentPct           float64 `json:"recent_pct"`
}

type PerformanceFeatures struct {
	AvgGradeCurrent float64 `json:"avg_grade_current"`
	Last3Avg        float64 `json:"last_3_avg"`
	GradeTrend      string  `json:"grade_trend"`
	Volatility      string  `json:"volatility"`
	StdDev          float64 `json:"std_dev"`
}

type EngagementFeatures struct {
	LastLogin      *time.Time `json:"last_login"`
	DaysSinceLogin int        `json:"days_since_login"`
	LoginsLast7d   int        `json:"logins_last_7d"`
	LoginsLast14d  int        `json:"logins_last_14d"`
}

type CompletionFeatures struct {
	SubmissionRate     float64 `json:"submission_rate"`
	MissingAssessments int     `json:"missing_assessments"`
	LateSubmissions    int     `json:"late_submissions"`
}

// Vector is the full per-student feature set handed to the scorer.
type Vector struct {
	Attendance  AttendanceFeatures  `json:"attendance"`
	Performance PerformanceFeatures `json:"performance"`
	Engagement  EngagementFeatures  `json:"engagement"`
	Completion  CompletionFeatures  `json:"completion"`
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// compareTrend applies the strict ±5 point rule shared by attendance and grades.
// The gap is rounded to hundredths first, so 64.1 against 59.1 is exactly 5.
func compareTrend(recent, previous float64) string {
	d := round2(recent - previous)
	switch {
	case d > trendMargin:
		return TrendImproving
	case d < -trendMargin:
		return TrendDeclining
	default:
		return TrendStable
	}
}

const trendMargin = 5.0

func dateOnly(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole calendar days from then to now.
func daysBetween(now, then time.Time) int {
	return int(math.Round(dateOnly(now).Sub(dateOnly(then)).Hours() / 24))
}
