package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"studentrisk/internal/logsvc"
)

// runRetentionOnce deletes batch runs that started before the cutoff.
// Risk records are never touched.
func runRetentionOnce(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&BatchRun{})
	return res.RowsAffected, res.Error
}

// StartRetentionWorker launches a background goroutine that prunes run
// history once at startup and then once per day.
func StartRetentionWorker(db *gorm.DB, retentionDays int, logger logsvc.Logger) {
	if retentionDays <= 0 {
		return
	}
	prune := func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		n, err := runRetentionOnce(context.Background(), db, cutoff)
		if err != nil {
			logger.Error("retention cleanup error: %v", err)
			return
		}
		if n > 0 {
			logger.Info("retention removed %d batch runs older than %s", n, cutoff.Format(time.RFC3339))
		}
	}

	go func() {
		prune()

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			prune()
		}
	}()
}
