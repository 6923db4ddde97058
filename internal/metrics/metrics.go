package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every collector exported by the service.
const Namespace = "studentrisk"

var (
	studentsScored  prometheus.Counter
	studentsFailed  prometheus.Counter
	batchRuns       *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	studentsByTier  *prometheus.GaugeVec
	initOnce        sync.Once
	registerOnce    sync.Once
	registeredError error
)

func build() {
	studentsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "students_scored_total",
		Help:      "Students whose risk record was written.",
	})
	studentsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "students_failed_total",
		Help:      "Students whose scoring failed during a batch.",
	})
	batchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batch_runs_total",
			Help:      "Batch runs by outcome.",
		},
		[]string{"outcome"},
	)
	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "batch_duration_seconds",
		Help:      "Wall time of a full batch run.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
	studentsByTier = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "students_by_tier",
			Help:      "Stored risk records per tier after the last batch.",
		},
		[]string{"tier"},
	)
}

func ensure() {
	initOnce.Do(build)
}

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() error {
	ensure()
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{studentsScored, studentsFailed, batchRuns, batchDuration, studentsByTier} {
			if err := prometheus.Register(c); err != nil {
				registeredError = err
				return
			}
		}
	})
	return registeredError
}

func StudentScored() {
	ensure()
	studentsScored.Inc()
}

func StudentFailed() {
	ensure()
	studentsFailed.Inc()
}

func BatchFinished(outcome string, took time.Duration) {
	ensure()
	batchRuns.WithLabelValues(outcome).Inc()
	batchDuration.Observe(took.Seconds())
}

// SetTierCounts replaces the tier gauge with the given counts.
func SetTierCounts(counts map[string]int64) {
	ensure()
	studentsByTier.Reset()
	for tier, n := range counts {
		studentsByTier.WithLabelValues(tier).Set(float64(n))
	}
}
