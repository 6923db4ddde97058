package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	require.NoError(t, Init())
	require.NoError(t, Init())

	scored := testutil.ToFloat64(studentsScored)
	StudentScored()
	StudentScored()
	assert.Equal(t, scored+2, testutil.ToFloat64(studentsScored))

	failed := testutil.ToFloat64(studentsFailed)
	StudentFailed()
	assert.Equal(t, failed+1, testutil.ToFloat64(studentsFailed))

	BatchFinished("completed", 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(batchRuns.WithLabelValues("completed")))

	SetTierCounts(map[string]int64{"Star": 2, "Safe": 5, "At Risk": 1})
	assert.Equal(t, 5.0, testutil.ToFloat64(studentsByTier.WithLabelValues("Safe")))
	SetTierCounts(map[string]int64{"Star": 1})
	assert.Equal(t, 1, testutil.CollectAndCount(studentsByTier))
}
