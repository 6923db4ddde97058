package db

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/datatypes"

	"studentrisk/internal/batch"
)

const maxRunsPage = 200

// RecordRun stores the summary of a finished batch.
func (s *Store) RecordRun(ctx context.Context, rep *batch.Report) error {
	failures := rep.Failures
	if failures == nil {
		failures = []batch.Failure{}
	}
	raw, err := json.Marshal(failures)
	if err != nil {
		return errors.Wrap(err, "encode failures")
	}
	tiers := make(map[string]int64, len(rep.TierCounts))
	for tier, n := range rep.TierCounts {
		tiers[tier] = n
	}

	row := BatchRun{
		ID:              rep.RunID,
		Trigger:         rep.Trigger,
		StartedAt:       rep.StartedAt.UTC(),
		FinishedAt:      rep.FinishedAt.UTC(),
		StudentsTotal:   rep.Total,
		StudentsScored:  rep.Scored,
		StudentsFailed:  rep.Failed,
		StudentsSkipped: rep.Skipped,
		TimedOut:        rep.TimedOut,
		Failures:        datatypes.JSON(raw),
		TierCounts:      datatypes.NewJSONType(tiers),
	}
	return errors.Wrapf(s.db.WithContext(ctx).Create(&row).Error, "record run %s", rep.RunID)
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	if limit <= 0 || limit > maxRunsPage {
		limit = maxRunsPage
	}
	var runs []BatchRun
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return runs, nil
}

// RunFailures decodes the stored failure list.
func (r *BatchRun) RunFailures() ([]batch.Failure, error) {
	out := []batch.Failure{}
	if len(r.Failures) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Failures, &out); err != nil {
		return nil, errors.Wrapf(err, "decode failures of run %s", r.ID)
	}
	return out, nil
}
