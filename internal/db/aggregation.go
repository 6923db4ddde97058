package db

import (
	"context"

	"github.com/pkg/errors"

	"studentrisk/internal/scoring"
)

type tierCount struct {
	Tier  string
	Total int64
}

// TierCounts aggregates stored risk records per tier. Every known tier is
// present in the result, with zero when no student is in it.
func (s *Store) TierCounts(ctx context.Context) (map[string]int64, error) {
	var rows []tierCount
	err := s.db.WithContext(ctx).Model(&RiskScore{}).
		Select("tier, COUNT(*) AS total").
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "aggregate tiers")
	}

	counts := map[string]int64{
		string(scoring.TierStar):   0,
		string(scoring.TierSafe):   0,
		string(scoring.TierAtRisk): 0,
	}
	for _, r := range rows {
		counts[r.Tier] = r.Total
	}
	return counts, nil
}
