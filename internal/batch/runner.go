package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"studentrisk/internal/features"
	"studentrisk/internal/logsvc"
	"studentrisk/internal/metrics"
	"studentrisk/internal/scoring"
)

var (
	ErrAlreadyRunning    = errors.New("batch run already in progress")
	ErrRosterUnavailable = errors.New("student roster unavailable")
	ErrStoreUnavailable  = errors.New("persistence store unavailable")
	errMissingStudentID  = errors.New("student has no id")
)

const defaultWorkers = 4

// Source reads the per-student inputs of the extractors.
type Source interface {
	ListActiveStudents(ctx context.Context) ([]features.Student, error)
	ActiveSubjectIDs(ctx context.Context, studentID uint) ([]uint, error)
	GetRecentGrades(ctx context.Context, studentID uint, limit int) ([]features.GradeRecord, error)
	GetLoginStats(ctx context.Context, studentID uint, asOf time.Time) (features.LoginStats, error)
	GetCompletionTally(ctx context.Context, studentID uint) (features.CompletionTally, error)
}

// AttendanceSource returns the normalized attendance rows of a student over
// the given subjects. A subject without data contributes nothing.
type AttendanceSource interface {
	GetAttendance(ctx context.Context, student features.Student, subjectIDs []uint) ([]features.AttendanceEntry, error)
}

// Sink persists scores. UpsertRiskScore must replace all fields of the
// student's record at once.
type Sink interface {
	Ping(ctx context.Context) error
	UpsertRiskScore(ctx context.Context, studentID uint, res scoring.Result, at time.Time) error
}

// RunRecorder is optional. It stores run summaries and reports tier totals.
type RunRecorder interface {
	RecordRun(ctx context.Context, rep *Report) error
	TierCounts(ctx context.Context) (map[string]int64, error)
}

type Options struct {
	Workers  int
	Logger   logsvc.Logger
	Recorder RunRecorder
	Now      func() time.Time
}

// Runner scores the active roster. Only one Run may execute at a time.
type Runner struct {
	source     Source
	attendance AttendanceSource
	sink       Sink
	scorer     *scoring.Scorer
	recorder   RunRecorder
	logger     logsvc.Logger
	workers    int
	now        func() time.Time

	running atomic.Bool
}

func NewRunner(source Source, attendance AttendanceSource, sink Sink, scorer *scoring.Scorer, opts Options) *Runner {
	r := &Runner{
		source:     source,
		attendance: attendance,
		sink:       sink,
		scorer:     scorer,
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		workers:    opts.Workers,
		now:        opts.Now,
	}
	if r.workers <= 0 {
		r.workers = defaultWorkers
	}
	if r.logger == nil {
		r.logger = logsvc.NewStdLogger(nil)
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run scores every active student and upserts the results. Per-student
// failures are collected in the report. The returned error is non-nil only
// when the roster or the store cannot be reached, or another run is active.
//
// When ctx ends, no further students are started; those already started
// finish and their writes are kept.
func (r *Runner) Run(ctx context.Context, trigger string) (*Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	rep := &Report{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: r.now(),
		Failures:  []Failure{},
	}
	asOf := rep.StartedAt

	if err := r.sink.Ping(ctx); err != nil {
		r.abort(rep, err)
		return nil, errors.Wrapf(ErrStoreUnavailable, "ping: %v", err)
	}
	students, err := r.source.ListActiveStudents(ctx)
	if err != nil {
		r.abort(rep, err)
		return nil, errors.Wrapf(ErrRosterUnavailable, "list active students: %v", err)
	}
	rep.Total = len(students)
	r.logger.Info("batch started run=%s trigger=%s students=%d workers=%d", rep.RunID, trigger, rep.Total, r.workers)

	// Started students run to completion even if ctx is cancelled.
	work := context.WithoutCancel(ctx)

	var (
		mu   sync.Mutex
		g    errgroup.Group
		seen = make(map[string]int64)
	)
	g.SetLimit(r.workers)

	for i, st := range students {
		if ctx.Err() != nil {
			mu.Lock()
			rep.Skipped += len(students) - i
			mu.Unlock()
			break
		}
		st := st
		g.Go(func() error {
			// The slot may have been granted after ctx ended.
			if ctx.Err() != nil {
				mu.Lock()
				rep.Skipped++
				mu.Unlock()
				return nil
			}
			res, err := r.scoreOne(work, st, asOf)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				rep.Failures = append(rep.Failures, Failure{StudentID: st.ID, Student: st.Label(), Error: err.Error()})
				metrics.StudentFailed()
				r.logger.Warn("batch student failed run=%s student_id=%d student=%q err=%v", rep.RunID, st.ID, st.Label(), err)
				return nil
			}
			rep.Scored++
			seen[string(res.Tier)]++
			metrics.StudentScored()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(rep.Failures, func(i, j int) bool { return rep.Failures[i].StudentID < rep.Failures[j].StudentID })
	// A deadline that passes after the last student started leaves the run complete.
	rep.TimedOut = rep.Skipped > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded)
	rep.TierCounts = seen
	if r.recorder != nil {
		if counts, err := r.recorder.TierCounts(work); err != nil {
			r.logger.Warn("batch tier counts run=%s err=%v", rep.RunID, err)
		} else {
			rep.TierCounts = counts
		}
	}
	rep.FinishedAt = r.now()

	metrics.SetTierCounts(rep.TierCounts)
	metrics.BatchFinished(rep.Outcome(), rep.Duration())
	if r.recorder != nil {
		if err := r.recorder.RecordRun(work, rep); err != nil {
			r.logger.Warn("batch record run=%s err=%v", rep.RunID, err)
		}
	}

	r.logger.Info("batch finished run=%s outcome=%s scored=%d failed=%d skipped=%d total=%d took=%s",
		rep.RunID, rep.Outcome(), rep.Scored, rep.Failed, rep.Skipped, rep.Total, rep.Duration().Round(time.Millisecond))
	return rep, nil
}

func (r *Runner) abort(rep *Report, cause error) {
	rep.FinishedAt = r.now()
	metrics.BatchFinished(OutcomeFailed, rep.Duration())
	r.logger.Error("batch aborted run=%s trigger=%s err=%v", rep.RunID, rep.Trigger, cause)
}

func (r *Runner) scoreOne(ctx context.Context, st features.Student, asOf time.Time) (res scoring.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	res, err = r.Compute(ctx, st, asOf)
	if err != nil {
		return res, err
	}
	if err := r.sink.UpsertRiskScore(ctx, st.ID, res, asOf); err != nil {
		return res, errors.Wrap(err, "upsert risk score")
	}
	return res, nil
}

// Compute gathers the inputs of one student and scores them without
// persisting anything.
func (r *Runner) Compute(ctx context.Context, st features.Student, asOf time.Time) (scoring.Result, error) {
	if st.ID == 0 {
		return scoring.Result{}, errMissingStudentID
	}

	subjects, err := r.source.ActiveSubjectIDs(ctx, st.ID)
	if err != nil {
		return scoring.Result{}, errors.Wrap(err, "active subjects")
	}
	var entries []features.AttendanceEntry
	if r.attendance != nil && len(subjects) > 0 {
		entries, err = r.attendance.GetAttendance(ctx, st, subjects)
		if err != nil {
			return scoring.Result{}, errors.Wrap(err, "attendance")
		}
	}
	grades, err := r.source.GetRecentGrades(ctx, st.ID, features.GradeWindow)
	if err != nil {
		return scoring.Result{}, errors.Wrap(err, "recent grades")
	}
	logins, err := r.source.GetLoginStats(ctx, st.ID, asOf)
	if err != nil {
		return scoring.Result{}, errors.Wrap(err, "login stats")
	}
	tally, err := r.source.GetCompletionTally(ctx, st.ID)
	if err != nil {
		return scoring.Result{}, errors.Wrap(err, "completion tally")
	}

	v := features.Vector{
		Attendance:  features.ExtractAttendance(entries, subjects, asOf),
		Performance: features.ExtractPerformance(grades),
		Engagement:  features.ExtractEngagement(logins, asOf),
		Completion:  features.ExtractCompletion(tally),
	}
	return r.scorer.Score(v), nil
}
