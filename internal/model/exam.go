package model

import "time"

// ExamStatus is the lifecycle state of an exam.
type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamPending   ExamStatus = "pending"
	ExamPublished ExamStatus = "published"
	ExamActive    ExamStatus = "active"
	ExamCompleted ExamStatus = "completed"
	ExamArchived  ExamStatus = "archived"
)

// Valid reports whether s is a known exam status.
func (s ExamStatus) Valid() bool {
	switch s {
	case ExamDraft, ExamPending, ExamPublished, ExamActive, ExamCompleted, ExamArchived:
		return true
	}
	return false
}

// CanTransition reports whether an exam may move from s to next.
func (s ExamStatus) CanTransition(next ExamStatus) bool {
	switch s {
	case ExamDraft, ExamPending:
		return next == ExamPublished
	case ExamPublished:
		// re-publishing reschedules
		return next == ExamPublished || next == ExamActive || next == ExamArchived
	case ExamActive:
		return next == ExamCompleted
	case ExamCompleted:
		return next == ExamArchived
	case ExamArchived:
		return false
	}
	return false
}

// Editable reports whether questions may still be added.
func (s ExamStatus) Editable() bool {
	switch s {
	case ExamDraft, ExamPending, ExamPublished:
		return true
	case ExamActive, ExamCompleted, ExamArchived:
		return false
	}
	return false
}

// QuestionType selects how a question is graded.
type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	Essay          QuestionType = "essay"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, TrueFalse, ShortAnswer, Essay:
		return true
	}
	return false
}

// AutoGradable reports whether answers of this type are scored by exact match.
func (t QuestionType) AutoGradable() bool {
	switch t {
	case MultipleChoice, TrueFalse:
		return true
	case ShortAnswer, Essay:
		return false
	}
	return false
}

// Question is a single exam item. Index is its position within the exam.
type Question struct {
	Index         int          `json:"index"`
	Text          string       `json:"text" validate:"required"`
	Type          QuestionType `json:"type" validate:"required"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Points        int          `json:"points" validate:"min=1"`
	Rubric        string       `json:"rubric,omitempty"`
}

// Exam is a catalog entry: the definition students attempt.
type Exam struct {
	ID                  string     `json:"id"`
	CourseID            string     `json:"course_id"`
	Title               string     `json:"title"`
	JoinCode            string     `json:"join_code"`
	Status              ExamStatus `json:"status"`
	Duration            int        `json:"duration"` // minutes
	ScheduledAt         *time.Time `json:"scheduled_at,omitempty"`
	StartDate           *time.Time `json:"start_date,omitempty"`
	EndDate             *time.Time `json:"end_date,omitempty"`
	DeclaredTotalPoints int        `json:"declared_total_points,omitempty"`
	CreatedBy           string     `json:"created_by"`
	CreatedAt           time.Time  `json:"created_at"`
	Questions           []Question `json:"questions"`
}

// TotalPoints is the sum of question points.
func (e Exam) TotalPoints() int {
	total := 0
	for _, q := range e.Questions {
		total += q.Points
	}
	return total
}

// Window returns the interval during which the exam may be activated and attempted.
// ok is false when the exam has not been scheduled.
func (e Exam) Window() (from, until time.Time, ok bool) {
	switch {
	case e.ScheduledAt != nil:
		from = *e.ScheduledAt
	case e.StartDate != nil:
		from = *e.StartDate
	default:
		return time.Time{}, time.Time{}, false
	}
	if e.EndDate != nil {
		return from, *e.EndDate, true
	}
	return from, from.Add(time.Duration(e.Duration) * time.Minute), true
}

// InWindow reports whether t lies inside the exam window (both ends inclusive).
func (e Exam) InWindow(t time.Time) bool {
	from, until, ok := e.Window()
	if !ok {
		return false
	}
	return !t.Before(from) && !t.After(until)
}

// NewExam is the authoring input for an exam.
type NewExam struct {
	CourseID            string     `json:"course_id" validate:"required"`
	Title               string     `json:"title" validate:"required,max=200"`
	Duration            int        `json:"duration" validate:"required,min=1,max=1440"`
	StartDate           *time.Time `json:"start_date,omitempty"`
	EndDate             *time.Time `json:"end_date,omitempty"`
	DeclaredTotalPoints int        `json:"declared_total_points,omitempty" validate:"min=0"`
	Pending             bool       `json:"pending,omitempty"`
	Questions           []Question `json:"questions,omitempty" validate:"dive"`
}
