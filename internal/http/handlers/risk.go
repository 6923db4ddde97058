package handlers

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"studentrisk/internal/batch"
	dbpkg "studentrisk/internal/db"
	"studentrisk/internal/logsvc"
)

// BatchTrigger starts a batch run.
type BatchTrigger interface {
	Run(ctx context.Context, trigger string) (*batch.Report, error)
}

// RunLister reads the batch run history.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]dbpkg.BatchRun, error)
}

const defaultRunsLimit = 20

// RunBatch runs a batch synchronously and answers with its report.
// A run already in progress yields 409.
func RunBatch(trigger BatchTrigger, timeout time.Duration, logger logsvc.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}

		runCtx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, timeout)
			defer cancel()
		}

		logger.Info("admin batch trigger user=%s", user.Username)
		rep, err := trigger.Run(runCtx, batch.TriggerAdmin)
		switch {
		case errors.Is(err, batch.ErrAlreadyRunning):
			errResponse(ctx, fasthttp.StatusConflict, err.Error())
			return
		case err != nil:
			logger.Error("admin batch failed user=%s err=%v", user.Username, err)
			errResponse(ctx, fasthttp.StatusServiceUnavailable, err.Error())
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, rep)
	}
}

type runView struct {
	ID         string           `json:"id"`
	Trigger    string           `json:"trigger"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Total      int              `json:"students_total"`
	Scored     int              `json:"students_scored"`
	Failed     int              `json:"students_failed"`
	Skipped    int              `json:"students_skipped"`
	TimedOut   bool             `json:"timed_out"`
	Failures   []batch.Failure  `json:"failures"`
	TierCounts map[string]int64 `json:"tier_counts"`
}

// ListRuns returns the most recent batch runs, newest first (?limit=N).
func ListRuns(lister RunLister, logger logsvc.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		limit := queryInt(ctx, "limit", defaultRunsLimit)
		runs, err := lister.ListRuns(context.Background(), limit)
		if err != nil {
			logger.Error("list runs err=%v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "database error")
			return
		}

		out := make([]runView, 0, len(runs))
		for i := range runs {
			r := &runs[i]
			failures, err := r.RunFailures()
			if err != nil {
				logger.Warn("list runs: %v", err)
				failures = []batch.Failure{}
			}
			out = append(out, runView{
				ID:         r.ID,
				Trigger:    r.Trigger,
				StartedAt:  r.StartedAt,
				FinishedAt: r.FinishedAt,
				Total:      r.StudentsTotal,
				Scored:     r.StudentsScored,
				Failed:     r.StudentsFailed,
				Skipped:    r.StudentsSkipped,
				TimedOut:   r.TimedOut,
				Failures:   failures,
				TierCounts: r.TierCounts.Data(),
			})
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"runs": out})
	}
}
