package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"studentrisk/internal/batch"
	"studentrisk/internal/features"
	"studentrisk/internal/scoring"
)

// Store is the gorm-backed source and sink of the batch runner.
type Store struct {
	db *gorm.DB
}

var (
	_ batch.Source           = (*Store)(nil)
	_ batch.AttendanceSource = (*Store)(nil)
	_ batch.Sink             = (*Store)(nil)
	_ batch.RunRecorder      = (*Store)(nil)
)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return Ping(ctx, s.db)
}

func toIdentity(st Student) features.Student {
	return features.Student{
		ID:           st.ID,
		ExternalCode: st.ExternalCode,
		Email:        st.Email,
		DisplayName:  st.DisplayName,
	}
}

func (s *Store) ListActiveStudents(ctx context.Context) ([]features.Student, error) {
	var rows []Student
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list active students")
	}
	out := make([]features.Student, 0, len(rows))
	for _, st := range rows {
		out = append(out, toIdentity(st))
	}
	return out, nil
}

// FindStudent loads one student regardless of the active flag.
func (s *Store) FindStudent(ctx context.Context, id uint) (features.Student, error) {
	var st Student
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&st).Error; err != nil {
		return features.Student{}, errors.Wrapf(err, "find student %d", id)
	}
	if st.ID == 0 {
		return features.Student{}, errors.Wrapf(ErrNotFound, "student %d", id)
	}
	return toIdentity(st), nil
}

func (s *Store) ActiveSubjectIDs(ctx context.Context, studentID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&Enrollment{}).
		Where("student_id = ? AND active = ?", studentID, true).
		Distinct().
		Order("subject_id").
		Pluck("subject_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "active subjects")
	}
	return ids, nil
}

// GetAttendance reads the normalized attendance table. Cells with an
// unknown status are skipped.
func (s *Store) GetAttendance(ctx context.Context, st features.Student, subjectIDs []uint) ([]features.AttendanceEntry, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	var rows []AttendanceEntry
	err := s.db.WithContext(ctx).
		Where("student_id = ? AND subject_id IN ?", st.ID, subjectIDs).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "read attendance")
	}
	out := make([]features.AttendanceEntry, 0, len(rows))
	for _, row := range rows {
		status, ok := features.ParseAttendanceStatus(row.Status)
		if !ok {
			continue
		}
		out = append(out, features.AttendanceEntry{SubjectID: row.SubjectID, Date: row.Date, Status: status})
	}
	return out, nil
}

type gradeRow struct {
	MarksObtained float64
	MaxMarks      float64
	GradedAt      *time.Time
	CreatedAt     time.Time
}

// GetRecentGrades returns up to limit graded records over active
// enrollments, newest first by (graded_at, created_at). Later inserts win ties.
func (s *Store) GetRecentGrades(ctx context.Context, studentID uint, limit int) ([]features.GradeRecord, error) {
	var rows []gradeRow
	err := s.db.WithContext(ctx).Table("grades").
		Select("grades.marks_obtained, evaluations.max_marks, grades.graded_at, grades.created_at").
		Joins("JOIN enrollments ON enrollments.id = grades.enrollment_id").
		Joins("JOIN evaluations ON evaluations.id = grades.evaluation_id").
		Where("enrollments.student_id = ? AND enrollments.active = ?", studentID, true).
		Where("grades.marks_obtained IS NOT NULL").
		Order("COALESCE(grades.graded_at, grades.created_at) DESC, grades.created_at DESC, grades.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "recent grades")
	}
	out := make([]features.GradeRecord, 0, len(rows))
	for _, row := range rows {
		at := row.CreatedAt
		if row.GradedAt != nil {
			at = *row.GradedAt
		}
		out = append(out, features.GradeRecord{Obtained: row.MarksObtained, Max: row.MaxMarks, GradedAt: at})
	}
	return out, nil
}

// GetLoginStats counts logins in the 7 and 14 days up to asOf.
func (s *Store) GetLoginStats(ctx context.Context, studentID uint, asOf time.Time) (features.LoginStats, error) {
	var stats features.LoginStats
	q := s.db.WithContext(ctx)

	var last LoginEvent
	if err := q.Where("student_id = ? AND occurred_at <= ?", studentID, asOf).Order("occurred_at DESC").Limit(1).Find(&last).Error; err != nil {
		return stats, errors.Wrap(err, "last login")
	}
	if last.ID != 0 {
		at := last.OccurredAt
		stats.LastLoginAt = &at
	}

	var n7, n14 int64
	if err := q.Model(&LoginEvent{}).Where("student_id = ? AND occurred_at > ? AND occurred_at <= ?", studentID, asOf.AddDate(0, 0, -7), asOf).Count(&n7).Error; err != nil {
		return stats, errors.Wrap(err, "logins 7d")
	}
	if err := q.Model(&LoginEvent{}).Where("student_id = ? AND occurred_at > ? AND occurred_at <= ?", studentID, asOf.AddDate(0, 0, -14), asOf).Count(&n14).Error; err != nil {
		return stats, errors.Wrap(err, "logins 14d")
	}
	stats.Count7d = int(n7)
	stats.Count14d = int(n14)

	var st Student
	if err := q.Select("id", "last_activity_at").Where("id = ?", studentID).Limit(1).Find(&st).Error; err != nil {
		return stats, errors.Wrap(err, "last activity")
	}
	stats.LastActivityAt = st.LastActivityAt
	return stats, nil
}

// GetCompletionTally counts evaluations expected over active enrollments and
// those with a mark. Late submissions come from the optional submissions table.
func (s *Store) GetCompletionTally(ctx context.Context, studentID uint) (features.CompletionTally, error) {
	var tally features.CompletionTally
	q := s.db.WithContext(ctx)

	var expected int64
	err := q.Model(&Evaluation{}).
		Joins("JOIN enrollments ON enrollments.subject_id = evaluations.subject_id").
		Where("enrollments.student_id = ? AND enrollments.active = ?", studentID, true).
		Count(&expected).Error
	if err != nil {
		return tally, errors.Wrap(err, "expected evaluations")
	}

	var submitted int64
	err = q.Model(&Grade{}).
		Joins("JOIN enrollments ON enrollments.id = grades.enrollment_id").
		Where("enrollments.student_id = ? AND enrollments.active = ?", studentID, true).
		Where("grades.marks_obtained IS NOT NULL").
		Count(&submitted).Error
	if err != nil {
		return tally, errors.Wrap(err, "submitted evaluations")
	}
	tally.Expected = int(expected)
	tally.Submitted = int(submitted)

	total, late, err := s.submissionCounts(ctx, studentID)
	if err != nil {
		return tally, err
	}
	tally.TotalSubmissions = total
	tally.LateSubmissions = late
	return tally, nil
}

// submissionCounts returns nil counts when the submissions table is absent.
func (s *Store) submissionCounts(ctx context.Context, studentID uint) (*int, *int, error) {
	q := s.db.WithContext(ctx)
	if !q.Migrator().HasTable(&Submission{}) {
		return nil, nil, nil
	}

	var total, late int64
	if err := q.Model(&Submission{}).Where("student_id = ?", studentID).Count(&total).Error; err != nil {
		if isUndefinedTable(err) {
			return nil, nil, nil
		}
		return nil, nil, errors.Wrap(err, "count submissions")
	}
	if err := q.Model(&Submission{}).Where("student_id = ? AND late = ?", studentID, true).Count(&late).Error; err != nil {
		if isUndefinedTable(err) {
			return nil, nil, nil
		}
		return nil, nil, errors.Wrap(err, "count late submissions")
	}
	t, l := int(total), int(late)
	return &t, &l, nil
}

var riskScoreColumns = []string{
	"score",
	"tier",
	"attendance_score",
	"grade_score",
	"submission_score",
	"engagement_score",
	"features",
	"risk_factors",
	"last_updated",
}

// UpsertRiskScore writes every field of the student's record in one statement.
func (s *Store) UpsertRiskScore(ctx context.Context, studentID uint, res scoring.Result, at time.Time) error {
	detail, err := featureMap(res.Features)
	if err != nil {
		return err
	}
	factors := res.Factors
	if factors == nil {
		factors = []string{}
	}
	row := RiskScore{
		StudentID:       studentID,
		Score:           res.Score,
		Tier:            string(res.Tier),
		AttendanceScore: res.AttendanceScore,
		GradeScore:      res.GradeScore,
		SubmissionScore: res.SubmissionScore,
		EngagementScore: res.EngagementScore,
		Features:        detail,
		RiskFactors:     datatypes.NewJSONSlice(factors),
		LastUpdated:     at.UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns(riskScoreColumns),
	}).Create(&row).Error
	return errors.Wrapf(err, "upsert risk score student=%d", studentID)
}

// GetRiskScore returns the stored record of a student.
func (s *Store) GetRiskScore(ctx context.Context, studentID uint) (*RiskScore, error) {
	var rs RiskScore
	if err := s.db.WithContext(ctx).Where("student_id = ?", studentID).Limit(1).Find(&rs).Error; err != nil {
		return nil, errors.Wrap(err, "load risk score")
	}
	if rs.ID == 0 {
		return nil, errors.Wrapf(ErrNotFound, "risk score for student %d", studentID)
	}
	return &rs, nil
}

// featureMap flattens the typed vector into the generic JSON column.
func featureMap(v features.Vector) (datatypes.JSONMap, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode features")
	}
	m := datatypes.JSONMap{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "decode features")
	}
	return m, nil
}
