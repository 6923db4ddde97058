package batch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"studentrisk/internal/logsvc"
)

// StartScheduler runs the batch on a cron schedule (standard five-field spec).
// Overlapping ticks are skipped. Stop the returned cron to end scheduling.
func StartScheduler(spec string, timeout time.Duration, runner *Runner, logger logsvc.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	_, err := c.AddFunc(spec, func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		rep, err := runner.Run(ctx, TriggerSchedule)
		if err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				logger.Info("scheduled batch skipped: %v", err)
				return
			}
			logger.Error("scheduled batch failed: %v", err)
			return
		}
		if rep.TimedOut {
			logger.Warn("scheduled batch timed out run=%s scored=%d of %d", rep.RunID, rep.Scored, rep.Total)
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "add batch schedule %q", spec)
	}
	logger.Info("batch scheduler started schedule=%q timeout=%s", spec, timeout)
	c.Start()
	return c, nil
}
