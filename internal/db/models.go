package db

import (
	"time"

	"gorm.io/datatypes"
)

// Student is a person whose risk record is recomputed by the batch.
// Only Active students are scored.
type Student struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	ExternalCode string `gorm:"size:64;index"`
	Email        string `gorm:"size:255;index"`
	DisplayName  string `gorm:"size:255"`
	Active       bool   `gorm:"not null;default:true;index"`

	// LastActivityAt is the last known activity of any kind. It stands in
	// for a login when the student never logged in.
	LastActivityAt *time.Time
}

type Subject struct {
	ID   uint   `gorm:"primaryKey"`
	Code string `gorm:"uniqueIndex;size:32;not null"`
	Name string `gorm:"size:255"`
}

// Enrollment scopes grades to one student in one subject.
type Enrollment struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	StudentID uint `gorm:"index;not null"`
	SubjectID uint `gorm:"index;not null"`
	Active    bool `gorm:"not null;default:true"`
}

// AttendanceEntry is one normalized (subject, date, status) cell.
type AttendanceEntry struct {
	ID uint `gorm:"primaryKey"`

	StudentID uint      `gorm:"index:idx_attendance_student_subject,priority:1;not null"`
	SubjectID uint      `gorm:"index:idx_attendance_student_subject,priority:2;not null"`
	Date      time.Time `gorm:"type:date;not null"`
	Status    string    `gorm:"size:16;not null"`
}

// Evaluation is a graded component of a subject (exam, quiz, assignment).
type Evaluation struct {
	ID uint `gorm:"primaryKey"`

	SubjectID uint    `gorm:"index;not null"`
	Name      string  `gorm:"size:128;not null"`
	MaxMarks  float64 `gorm:"not null"`
}

// Grade is a student's mark on one evaluation. MarksObtained is nil until graded.
type Grade struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	EnrollmentID  uint `gorm:"index;not null"`
	EvaluationID  uint `gorm:"index;not null"`
	MarksObtained *float64
	GradedAt      *time.Time
}

type LoginEvent struct {
	ID uint `gorm:"primaryKey"`

	StudentID  uint      `gorm:"index:idx_login_student_at,priority:1;not null"`
	OccurredAt time.Time `gorm:"index:idx_login_student_at,priority:2;not null"`
}

// Submission is optional: deployments without an assignment tracker do not
// have this table, and completion then reports zero late submissions.
type Submission struct {
	ID uint `gorm:"primaryKey"`

	StudentID    uint      `gorm:"index;not null"`
	EvaluationID uint      `gorm:"index;not null"`
	SubmittedAt  time.Time `gorm:"not null"`
	Late         bool      `gorm:"not null;default:false"`
}

// RiskScore is the persisted result for one student. The row is replaced
// wholesale on every run and never deleted.
type RiskScore struct {
	ID uint `gorm:"primaryKey"`

	StudentID uint `gorm:"uniqueIndex;not null"`

	Score           float64 `gorm:"not null"`
	Tier            string  `gorm:"size:16;index;not null"`
	AttendanceScore float64 `gorm:"not null"`
	GradeScore      float64 `gorm:"not null"`
	SubmissionScore float64 `gorm:"not null"`
	EngagementScore float64 `gorm:"not null"`

	Features    datatypes.JSONMap           `gorm:"type:json"`
	RiskFactors datatypes.JSONSlice[string] `gorm:"type:json"`

	// LastUpdated is the batch's as-of time, not the wall clock of the write.
	LastUpdated time.Time `gorm:"not null"`
}

// BatchRun is the summary of one batch execution.
type BatchRun struct {
	ID string `gorm:"primaryKey;size:36"`

	Trigger    string    `gorm:"size:16;not null"`
	StartedAt  time.Time `gorm:"index;not null"`
	FinishedAt time.Time

	StudentsTotal   int  `gorm:"not null"`
	StudentsScored  int  `gorm:"not null"`
	StudentsFailed  int  `gorm:"not null"`
	StudentsSkipped int  `gorm:"not null"`
	TimedOut        bool `gorm:"not null;default:false"`

	// Failures is [{student_id, student, error}].
	Failures   datatypes.JSON                       `gorm:"type:json"`
	TierCounts datatypes.JSONType[map[string]int64] `gorm:"type:json"`
}
