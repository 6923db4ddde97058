package batch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentrisk/internal/features"
	"studentrisk/internal/logsvc"
	"studentrisk/internal/scoring"
)

var runAt = time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)

type fakeSource struct {
	students  []features.Student
	rosterErr error
	subjects  map[uint][]uint
	grades    map[uint][]features.GradeRecord
	gradeErr  map[uint]error
	logins    map[uint]features.LoginStats
	tallies   map[uint]features.CompletionTally
	panicFor  uint
}

func (f *fakeSource) ListActiveStudents(context.Context) ([]features.Student, error) {
	return f.students, f.rosterErr
}

func (f *fakeSource) ActiveSubjectIDs(_ context.Context, id uint) ([]uint, error) {
	return f.subjects[id], nil
}

func (f *fakeSource) GetRecentGrades(_ context.Context, id uint, limit int) ([]features.GradeRecord, error) {
	if err := f.gradeErr[id]; err != nil {
		return nil, err
	}
	g := f.grades[id]
	if len(g) > limit {
		g = g[:limit]
	}
	return g, nil
}

func (f *fakeSource) GetLoginStats(_ context.Context, id uint, _ time.Time) (features.LoginStats, error) {
	return f.logins[id], nil
}

func (f *fakeSource) GetCompletionTally(_ context.Context, id uint) (features.CompletionTally, error) {
	if f.panicFor == id {
		panic("corrupt tally")
	}
	return f.tallies[id], nil
}

type fakeAttendance map[uint][]features.AttendanceEntry

func (f fakeAttendance) GetAttendance(_ context.Context, st features.Student, _ []uint) ([]features.AttendanceEntry, error) {
	return f[st.ID], nil
}

type memSink struct {
	mu       sync.Mutex
	pingErr  error
	records  map[uint][]byte
	tiers    map[uint]scoring.Tier
	onUpsert func(id uint)
}

func newMemSink() *memSink {
	return &memSink{records: map[uint][]byte{}, tiers: map[uint]scoring.Tier{}}
}

func (s *memSink) Ping(context.Context) error { return s.pingErr }

func (s *memSink) UpsertRiskScore(_ context.Context, id uint, res scoring.Result, at time.Time) error {
	if s.onUpsert != nil {
		s.onUpsert(id)
	}
	payload, err := json.Marshal(struct {
		Result scoring.Result
		At     time.Time
	}{res, at})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = payload
	s.tiers[id] = res.Tier
	return nil
}

type memRecorder struct {
	sink *memSink
	runs []*Report
}

func (r *memRecorder) RecordRun(_ context.Context, rep *Report) error {
	r.runs = append(r.runs, rep)
	return nil
}

func (r *memRecorder) TierCounts(context.Context) (map[string]int64, error) {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	out := map[string]int64{}
	for _, t := range r.sink.tiers {
		out[string(t)]++
	}
	return out, nil
}

func roster(n int) []features.Student {
	out := make([]features.Student, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, features.Student{ID: uint(i), ExternalCode: "S" + string(rune('0'+i))})
	}
	return out
}

func sampleSource(n int) *fakeSource {
	src := &fakeSource{
		students: roster(n),
		subjects: map[uint][]uint{},
		grades:   map[uint][]features.GradeRecord{},
		gradeErr: map[uint]error{},
		logins:   map[uint]features.LoginStats{},
		tallies:  map[uint]features.CompletionTally{},
	}
	for _, st := range src.students {
		last := runAt.Add(-48 * time.Hour)
		src.subjects[st.ID] = []uint{10, 20}
		src.grades[st.ID] = []features.GradeRecord{
			{Obtained: float64(60 + st.ID), Max: 100, GradedAt: runAt.Add(-24 * time.Hour)},
			{Obtained: 35, Max: 50, GradedAt: runAt.Add(-72 * time.Hour)},
		}
		src.logins[st.ID] = features.LoginStats{LastLoginAt: &last, Count7d: int(st.ID), Count14d: int(st.ID) + 1}
		src.tallies[st.ID] = features.CompletionTally{Expected: 4, Submitted: 3}
	}
	return src
}

func sampleAttendance(n int) fakeAttendance {
	att := fakeAttendance{}
	for i := 1; i <= n; i++ {
		att[uint(i)] = []features.AttendanceEntry{
			{SubjectID: 10, Date: runAt.AddDate(0, 0, -3), Status: features.StatusPresent},
			{SubjectID: 10, Date: runAt.AddDate(0, 0, -2), Status: features.StatusAbsent},
			{SubjectID: 20, Date: runAt.AddDate(0, 0, -1), Status: features.StatusPresent},
		}
	}
	return att
}

func newTestRunner(src Source, att AttendanceSource, sink Sink, opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = func() time.Time { return runAt }
	}
	if opts.Logger == nil {
		opts.Logger = logsvc.Discard{}
	}
	return NewRunner(src, att, sink, scoring.NewScorer(scoring.DefaultConfig()), opts)
}

func TestRunScoresEveryStudent(t *testing.T) {
	sink := newMemSink()
	rec := &memRecorder{sink: sink}
	r := newTestRunner(sampleSource(3), sampleAttendance(3), sink, Options{Workers: 2, Recorder: rec})

	rep, err := r.Run(context.Background(), TriggerCLI)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 3, rep.Scored)
	assert.Zero(t, rep.Failed)
	assert.Zero(t, rep.Skipped)
	assert.Empty(t, rep.Failures)
	assert.Equal(t, OutcomeCompleted, rep.Outcome())
	assert.Equal(t, runAt, rep.StartedAt)
	assert.NotEmpty(t, rep.RunID)
	assert.Len(t, sink.records, 3)
	require.Len(t, rec.runs, 1)
	assert.Same(t, rep, rec.runs[0])

	var total int64
	for _, n := range rep.TierCounts {
		total += n
	}
	assert.EqualValues(t, 3, total)
	assert.False(t, r.Running())
}

func TestRunPartialFailure(t *testing.T) {
	src := sampleSource(5)
	src.gradeErr[3] = errors.New("marks_obtained: invalid input syntax")
	sink := newMemSink()
	r := newTestRunner(src, sampleAttendance(5), sink, Options{Workers: 3})

	rep, err := r.Run(context.Background(), TriggerAdmin)
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Scored)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, uint(3), rep.Failures[0].StudentID)
	assert.Equal(t, "S3", rep.Failures[0].Student)
	assert.Contains(t, rep.Failures[0].Error, "recent grades")
	assert.Equal(t, []uint{3}, rep.FailedIDs())

	for _, id := range []uint{1, 2, 4, 5} {
		assert.Contains(t, sink.records, id)
	}
	assert.NotContains(t, sink.records, uint(3))
}

func TestRunIsIdempotent(t *testing.T) {
	sink := newMemSink()
	r := newTestRunner(sampleSource(4), sampleAttendance(4), sink, Options{Workers: 4})

	_, err := r.Run(context.Background(), TriggerCLI)
	require.NoError(t, err)
	first := make(map[uint]string, len(sink.records))
	for id, b := range sink.records {
		first[id] = string(b)
	}

	_, err = r.Run(context.Background(), TriggerCLI)
	require.NoError(t, err)
	require.Len(t, sink.records, len(first))
	for id, b := range sink.records {
		assert.Equal(t, first[id], string(b), "student %d", id)
	}
}

func TestRunFailuresAreSortedAndIsolated(t *testing.T) {
	src := sampleSource(5)
	src.gradeErr[4] = errors.New("boom")
	src.panicFor = 2
	src.students = append(src.students, features.Student{ExternalCode: "ghost"})
	sink := newMemSink()
	r := newTestRunner(src, sampleAttendance(5), sink, Options{Workers: 5})

	rep, err := r.Run(context.Background(), TriggerCLI)
	require.NoError(t, err)

	assert.Equal(t, 6, rep.Total)
	assert.Equal(t, 3, rep.Scored)
	assert.Equal(t, 3, rep.Failed)
	assert.Equal(t, []uint{0, 2, 4}, rep.FailedIDs())
	assert.Contains(t, rep.Failures[0].Error, "no id")
	assert.Contains(t, rep.Failures[1].Error, "panic: corrupt tally")
}

func TestRunMissingSubmissionFacility(t *testing.T) {
	src := sampleSource(1)
	src.tallies[1] = features.CompletionTally{Expected: 2, Submitted: 2}
	r := newTestRunner(src, sampleAttendance(1), newMemSink(), Options{})

	res, err := r.Compute(context.Background(), src.students[0], runAt)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Features.Completion.LateSubmissions)
	assert.Equal(t, 100.0, res.Features.Completion.SubmissionRate)
}

func TestRunBatchFatalErrors(t *testing.T) {
	t.Run("roster", func(t *testing.T) {
		src := sampleSource(2)
		src.rosterErr = errors.New("connection refused")
		rep, err := newTestRunner(src, nil, newMemSink(), Options{}).Run(context.Background(), TriggerCLI)
		assert.Nil(t, rep)
		assert.True(t, errors.Is(err, ErrRosterUnavailable))
		assert.Contains(t, err.Error(), "connection refused")
	})
	t.Run("store", func(t *testing.T) {
		sink := newMemSink()
		sink.pingErr = errors.New("dial tcp: timeout")
		rep, err := newTestRunner(sampleSource(2), nil, sink, Options{}).Run(context.Background(), TriggerCLI)
		assert.Nil(t, rep)
		assert.True(t, errors.Is(err, ErrStoreUnavailable))
	})
}

func TestRunStopsSchedulingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newMemSink()
	sink.onUpsert = func(uint) { cancel() }
	r := newTestRunner(sampleSource(5), sampleAttendance(5), sink, Options{Workers: 1})

	rep, err := r.Run(ctx, TriggerCLI)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Scored)
	assert.Equal(t, 4, rep.Skipped)
	assert.Equal(t, rep.Total, rep.Scored+rep.Failed+rep.Skipped)
	assert.False(t, rep.TimedOut)
	assert.Equal(t, OutcomeCancelled, rep.Outcome())
	assert.Len(t, sink.records, 1)
}

func TestRunReportsTimeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	rep, err := newTestRunner(sampleSource(3), nil, newMemSink(), Options{}).Run(ctx, TriggerSchedule)
	require.NoError(t, err)
	assert.True(t, rep.TimedOut)
	assert.Equal(t, 3, rep.Skipped)
	assert.Zero(t, rep.Scored)
	assert.Equal(t, OutcomeTimedOut, rep.Outcome())
}

func TestRunFinishingAtDeadlineIsNotTimedOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sink := newMemSink()
	sink.onUpsert = func(uint) { <-ctx.Done() }

	rep, err := newTestRunner(sampleSource(1), nil, sink, Options{Workers: 1}).Run(ctx, TriggerSchedule)
	require.NoError(t, err)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	assert.Equal(t, 1, rep.Scored)
	assert.Zero(t, rep.Skipped)
	assert.False(t, rep.TimedOut)
	assert.Equal(t, OutcomeCompleted, rep.Outcome())
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	sink := newMemSink()
	sink.onUpsert = func(uint) {
		once.Do(func() { close(entered) })
		<-release
	}
	r := newTestRunner(sampleSource(1), nil, sink, Options{Workers: 1})

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), TriggerSchedule)
		done <- err
	}()

	<-entered
	assert.True(t, r.Running())
	_, err := r.Run(context.Background(), TriggerAdmin)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, r.Running())
}
