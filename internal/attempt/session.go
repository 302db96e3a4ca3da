// Package attempt runs the per-student exam attempt state machine:
// in_progress -> submitted -> graded.
package attempt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/scoring"
	"github.com/pavelanni/tutorgate/internal/store"
)

// AutoGrader is recorded as the grader of attempts that needed no manual scoring.
const AutoGrader = "auto"

// Repository persists attempts.
type Repository interface {
	CreateAttempt(ctx context.Context, a model.Attempt) error
	GetAttempt(ctx context.Context, id string) (model.Attempt, error)
	GetAttemptFor(ctx context.Context, examID, studentID string) (model.Attempt, error)
	FinishAttempt(ctx context.Context, a model.Attempt, from model.AttemptStatus) (bool, error)
	ListAttemptsForExam(ctx context.Context, examID string) ([]model.Attempt, error)
}

// ExamSource loads exam definitions.
type ExamSource interface {
	GetExam(ctx context.Context, id string) (model.Exam, error)
}

// Roster answers whether a student may sit a course's exams.
type Roster interface {
	ClassesForCourse(ctx context.Context, courseID string) ([]string, error)
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
}

// Service manages exam attempts.
type Service struct {
	repo   Repository
	exams  ExamSource
	roster Roster
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRoster enables enrollment checks on Start.
func WithRoster(r Roster) Option {
	return func(s *Service) { s.roster = r }
}

// NewService creates an attempt Service.
func NewService(repo Repository, exams ExamSource, opts ...Option) *Service {
	s := &Service{repo: repo, exams: exams, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) exam(ctx context.Context, id string) (model.Exam, error) {
	e, err := s.exams.GetExam(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exam{}, apperr.ErrExamNotFound
	}
	if err != nil {
		return model.Exam{}, fmt.Errorf("get exam: %w", err)
	}
	return e, nil
}

// Start opens an attempt for the student. If the student already has an attempt for the
// exam, in any state, that attempt is returned unchanged.
func (s *Service) Start(ctx context.Context, examID, studentID string) (model.Attempt, error) {
	if studentID == "" {
		return model.Attempt{}, apperr.Validation("InvalidInput", apperr.FieldError{Field: "student_id", Error: "required"})
	}
	e, err := s.exam(ctx, examID)
	if err != nil {
		return model.Attempt{}, err
	}

	existing, err := s.repo.GetAttemptFor(ctx, examID, studentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}

	now := s.now().UTC()
	if e.Status != model.ExamActive || !e.InWindow(now) {
		return model.Attempt{}, apperr.Wrapf(apperr.ErrExamNotActive, "exam %s is %s", e.ID, e.Status)
	}
	if err := s.authorize(ctx, e, studentID); err != nil {
		return model.Attempt{}, err
	}

	a := model.Attempt{
		ID:        uuid.NewString(),
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.AttemptInProgress,
		StartedAt: now,
		Answers:   map[int]string{},
	}
	err = s.repo.CreateAttempt(ctx, a)
	if errors.Is(err, store.ErrDuplicate) {
		// a concurrent start for the same pair won
		return s.repo.GetAttemptFor(ctx, examID, studentID)
	}
	if err != nil {
		return model.Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	slog.Info("attempt started", "id", a.ID, "exam_id", examID, "student_id", studentID)
	return a, nil
}

func (s *Service) authorize(ctx context.Context, e model.Exam, studentID string) error {
	if s.roster == nil {
		return nil
	}
	classes, err := s.roster.ClassesForCourse(ctx, e.CourseID)
	if err != nil {
		return fmt.Errorf("list course classes: %w", err)
	}
	if len(classes) == 0 {
		return nil
	}
	for _, classID := range classes {
		ok, err := s.roster.IsEnrolled(ctx, studentID, classID)
		if err != nil {
			return fmt.Errorf("check enrollment: %w", err)
		}
		if ok {
			return nil
		}
	}
	return apperr.ErrNotAuthorized
}

// Submit hands in an attempt and scores it. Attempts with only auto-gradable questions go
// straight to graded; the rest wait in submitted for a tutor. Submitting a finished attempt
// returns it unchanged.
func (s *Service) Submit(ctx context.Context, attemptID string, sub model.Submission) (model.Attempt, error) {
	a, err := s.Get(ctx, attemptID)
	if err != nil {
		return model.Attempt{}, err
	}
	if a.Status.Finished() {
		return a, nil
	}
	e, err := s.exam(ctx, a.ExamID)
	if err != nil {
		return model.Attempt{}, err
	}

	now := s.now().UTC()
	if now.Before(a.StartedAt) {
		now = a.StartedAt
	}
	a.Answers = keepKnown(e, sub.Answers)
	a.SubmittedAt = &now
	a.TimeSpent = min(max(sub.TimeSpent, 0), e.Duration)

	res := scoring.Score(e, a.Answers)
	applyResult(&a, res)
	a.Status = model.AttemptSubmitted
	if res.Complete {
		a.Status = model.AttemptGraded
		a.GradedBy = AutoGrader
		a.GradedAt = &now
	}

	ok, err := s.repo.FinishAttempt(ctx, a, model.AttemptInProgress)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("finish attempt: %w", err)
	}
	if !ok {
		// a concurrent submit won; report what it stored
		return s.Get(ctx, attemptID)
	}
	if sub.TimeSpent > e.Duration {
		slog.Warn("time spent clamped", "attempt_id", a.ID, "reported", sub.TimeSpent, "duration", e.Duration)
	}
	slog.Info("attempt submitted", "id", a.ID, "exam_id", a.ExamID, "status", a.Status,
		"score", a.TotalScore, "percentage", a.Percentage)
	return a, nil
}

// Grade records manual points for the pending questions of a submitted attempt and moves
// it to graded. Every pending question must be scored.
func (s *Service) Grade(ctx context.Context, attemptID, grader string, scores map[int]int) (model.Attempt, error) {
	a, err := s.Get(ctx, attemptID)
	if err != nil {
		return model.Attempt{}, err
	}
	if a.Status != model.AttemptSubmitted {
		return model.Attempt{}, apperr.Wrapf(apperr.ErrNotGradable, "attempt %s is %s", a.ID, a.Status)
	}
	e, err := s.exam(ctx, a.ExamID)
	if err != nil {
		return model.Attempt{}, err
	}

	res := scoring.ApplyManual(e, a.Results, scores)
	if !res.Complete {
		var fields []apperr.FieldError
		for _, qr := range res.PerQuestion {
			if qr.Pending {
				fields = append(fields, apperr.FieldError{Field: fmt.Sprintf("scores[%d]", qr.Index), Error: "required"})
			}
		}
		return model.Attempt{}, apperr.Validation("InvalidInput", fields...)
	}

	now := s.now().UTC()
	applyResult(&a, res)
	a.Status = model.AttemptGraded
	a.GradedBy = grader
	a.GradedAt = &now

	ok, err := s.repo.FinishAttempt(ctx, a, model.AttemptSubmitted)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("grade attempt: %w", err)
	}
	if !ok {
		return model.Attempt{}, apperr.Wrapf(apperr.ErrNotGradable, "attempt %s was graded concurrently", a.ID)
	}
	slog.Info("attempt graded", "id", a.ID, "grader", grader, "score", a.TotalScore, "grade", a.Grade)
	return a, nil
}

// Get returns an attempt by ID.
func (s *Service) Get(ctx context.Context, attemptID string) (model.Attempt, error) {
	a, err := s.repo.GetAttempt(ctx, attemptID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Attempt{}, apperr.ErrAttemptNotFound
	}
	if err != nil {
		return model.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// ListForExam returns every attempt for an exam.
func (s *Service) ListForExam(ctx context.Context, examID string) ([]model.Attempt, error) {
	if _, err := s.exam(ctx, examID); err != nil {
		return nil, err
	}
	return s.repo.ListAttemptsForExam(ctx, examID)
}

// Stats aggregates an exam's attempts.
func (s *Service) Stats(ctx context.Context, examID string) (model.ExamStats, error) {
	attempts, err := s.ListForExam(ctx, examID)
	if err != nil {
		return model.ExamStats{}, err
	}
	return scoring.Aggregate(examID, attempts), nil
}

func applyResult(a *model.Attempt, res scoring.Result) {
	a.TotalScore = res.TotalScore
	a.Percentage = res.Percentage
	a.Grade = res.Grade
	a.Results = res.PerQuestion
}

// keepKnown drops answers to question indexes the exam does not have.
func keepKnown(e model.Exam, answers map[int]string) map[int]string {
	kept := make(map[int]string, len(answers))
	for _, q := range e.Questions {
		if ans, ok := answers[q.Index]; ok {
			kept[q.Index] = ans
		}
	}
	return kept
}
