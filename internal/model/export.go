package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	Exam       ExamSummary     `json:"exam"`
	ExportedAt time.Time       `json:"exported_at"`
	Stats      ExamStats       `json:"stats"`
	Results    []StudentResult `json:"results"`
}

// ExamSummary describes the exported exam without its answer key.
type ExamSummary struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	CourseID     string     `json:"course_id"`
	Status       ExamStatus `json:"status"`
	Duration     int        `json:"duration"`
	TotalPoints  int        `json:"total_points"`
	NumQuestions int        `json:"num_questions"`
}

// StudentResult holds one student's attempt for export.
type StudentResult struct {
	StudentID   string           `json:"student_id"`
	DisplayName string           `json:"display_name"`
	Status      AttemptStatus    `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
	TimeSpent   int              `json:"time_spent"`
	TotalScore  int              `json:"total_score"`
	Percentage  int              `json:"percentage"`
	Grade       LetterGrade      `json:"grade,omitempty"`
	Questions   []QuestionResult `json:"questions"`
}
