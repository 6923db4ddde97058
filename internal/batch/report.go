package batch

import (
	"time"
)

// Run triggers.
const (
	TriggerSchedule = "cron"
	TriggerAdmin    = "admin"
	TriggerCLI      = "cli"
)

// Run outcomes, also used as the batch_runs_total label.
const (
	OutcomeCompleted = "completed"
	OutcomeTimedOut  = "timed_out"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Failure records a student the run could not score.
type Failure struct {
	StudentID uint   `json:"student_id"`
	Student   string `json:"student"`
	Error     string `json:"error"`
}

// Report summarizes one batch run. Scored+Failed+Skipped always equals Total.
type Report struct {
	RunID      string           `json:"run_id"`
	Trigger    string           `json:"trigger"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Total      int              `json:"students_total"`
	Scored     int              `json:"students_scored"`
	Failed     int              `json:"students_failed"`
	Skipped    int              `json:"students_skipped"`
	TimedOut   bool             `json:"timed_out"`
	Failures   []Failure        `json:"failures"`
	TierCounts map[string]int64 `json:"tier_counts,omitempty"`
}

func (r *Report) Outcome() string {
	switch {
	case r.TimedOut:
		return OutcomeTimedOut
	case r.Skipped > 0:
		return OutcomeCancelled
	default:
		return OutcomeCompleted
	}
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedIDs lists failed student ids in ascending order.
func (r *Report) FailedIDs() []uint {
	ids := make([]uint, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.StudentID)
	}
	return ids
}
