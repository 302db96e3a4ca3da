package model

import "time"

// AttemptStatus represents the status of an exam attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptGraded     AttemptStatus = "graded"
)

// Valid reports whether s is a known attempt status.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptInProgress, AttemptSubmitted, AttemptGraded:
		return true
	}
	return false
}

// CanTransition reports whether an attempt may move from s to next. Graded is terminal.
func (s AttemptStatus) CanTransition(next AttemptStatus) bool {
	switch s {
	case AttemptInProgress:
		return next == AttemptSubmitted || next == AttemptGraded
	case AttemptSubmitted:
		return next == AttemptGraded
	case AttemptGraded:
		return false
	}
	return false
}

// Finished reports whether the attempt has been handed in.
func (s AttemptStatus) Finished() bool {
	return s == AttemptSubmitted || s == AttemptGraded
}

// LetterGrade is the A-F band derived from a percentage.
type LetterGrade string

const (
	GradeA LetterGrade = "A"
	GradeB LetterGrade = "B"
	GradeC LetterGrade = "C"
	GradeD LetterGrade = "D"
	GradeF LetterGrade = "F"
)

// QuestionResult holds the per-question outcome of scoring.
type QuestionResult struct {
	Index   int    `json:"index"`
	Answer  string `json:"answer"`
	Points  int    `json:"points"`
	Awarded int    `json:"awarded"`
	Pending bool   `json:"pending,omitempty"` // short-answer and essay items awaiting a tutor
	Correct *bool  `json:"correct,omitempty"`
}

// Attempt is one student's timed pass at an exam. Rows are never deleted.
type Attempt struct {
	ID          string           `json:"id"`
	ExamID      string           `json:"exam_id"`
	StudentID   string           `json:"student_id"`
	Status      AttemptStatus    `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
	Answers     map[int]string   `json:"answers,omitempty"`
	TotalScore  int              `json:"total_score"`
	Percentage  int              `json:"percentage"`
	Grade       LetterGrade      `json:"grade,omitempty"`
	TimeSpent   int              `json:"time_spent"` // minutes
	GradedBy    string           `json:"graded_by,omitempty"`
	GradedAt    *time.Time       `json:"graded_at,omitempty"`
	Results     []QuestionResult `json:"results,omitempty"`
}

// Submission is the client payload for handing in an attempt.
type Submission struct {
	Answers   map[int]string `json:"answers"`
	TimeSpent int            `json:"time_spent" validate:"min=0"`
}

// ExamStats are read-only aggregates over an exam's attempts.
type ExamStats struct {
	ExamID            string  `json:"exam_id"`
	SubmissionCount   int     `json:"submission_count"`
	CompletedCount    int     `json:"completed_count"`
	AverageScore      float64 `json:"average_score"`
	AveragePercentage float64 `json:"average_percentage"`
}
