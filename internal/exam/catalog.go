// Package exam manages the exam catalog: authoring, the publish/activate lifecycle and
// join-code resolution.
package exam

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/store"
	"github.com/pavelanni/tutorgate/internal/validate"
)

const (
	JoinCodeLength = 6
	joinAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	joinAttempts   = 10
)

// Repository persists exams and their questions.
type Repository interface {
	CreateExam(ctx context.Context, e model.Exam) error
	GetExam(ctx context.Context, id string) (model.Exam, error)
	GetExamByJoinCode(ctx context.Context, joinCode string) (model.Exam, error)
	AppendQuestion(ctx context.Context, examID string, q model.Question, editable []model.ExamStatus) (int, bool, error)
	UpdateExamStatus(ctx context.Context, id string, from, to model.ExamStatus, scheduledAt *time.Time) (bool, error)
	ListExamsByCourse(ctx context.Context, courseID string) ([]model.Exam, error)
}

// Catalog is the exam authoring and lifecycle service.
type Catalog struct {
	repo     Repository
	now      func() time.Time
	joinCode func() (string, error)
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock overrides the time source used for activation windows.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithJoinCodes overrides the join code generator.
func WithJoinCodes(gen func() (string, error)) Option {
	return func(c *Catalog) { c.joinCode = gen }
}

// NewCatalog creates a Catalog backed by repo.
func NewCatalog(repo Repository, opts ...Option) *Catalog {
	c := &Catalog{repo: repo, now: time.Now, joinCode: RandomJoinCode}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RandomJoinCode returns a 6-character uppercase alphanumeric code.
func RandomJoinCode() (string, error) {
	buf := make([]byte, JoinCodeLength)
	n := big.NewInt(int64(len(joinAlphabet)))
	for i := range buf {
		v, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		buf[i] = joinAlphabet[v.Int64()]
	}
	return string(buf), nil
}

// Create validates and stores a new exam in draft, or pending when requested.
func (c *Catalog) Create(ctx context.Context, ne model.NewExam, createdBy string) (model.Exam, error) {
	if err := validate.Struct(ne, "InvalidInput"); err != nil {
		return model.Exam{}, err
	}
	if ne.StartDate != nil && ne.EndDate != nil && ne.EndDate.Before(*ne.StartDate) {
		return model.Exam{}, apperr.Validation("InvalidInput",
			apperr.FieldError{Field: "end_date", Error: "end_date must not be before start_date"})
	}

	e := model.Exam{
		ID:                  uuid.NewString(),
		CourseID:            ne.CourseID,
		Title:               ne.Title,
		Status:              model.ExamDraft,
		Duration:            ne.Duration,
		StartDate:           utcPtr(ne.StartDate),
		EndDate:             utcPtr(ne.EndDate),
		DeclaredTotalPoints: ne.DeclaredTotalPoints,
		CreatedBy:           createdBy,
		CreatedAt:           c.now().UTC(),
		Questions:           make([]model.Question, len(ne.Questions)),
	}
	if ne.Pending {
		e.Status = model.ExamPending
	}
	for i, q := range ne.Questions {
		q.Index = i
		e.Questions[i] = q
	}
	if len(e.Questions) > 0 {
		if err := checkDeclaredTotal(e); err != nil {
			return model.Exam{}, err
		}
	}

	for i := 0; i < joinAttempts; i++ {
		code, err := c.joinCode()
		if err != nil {
			return model.Exam{}, fmt.Errorf("generate join code: %w", err)
		}
		e.JoinCode = code
		err = c.repo.CreateExam(ctx, e)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return model.Exam{}, fmt.Errorf("create exam: %w", err)
		}
		slog.Info("exam created", "id", e.ID, "course_id", e.CourseID, "join_code", e.JoinCode, "questions", len(e.Questions))
		return e, nil
	}
	return model.Exam{}, apperr.ErrCodeGenerationExhausted
}

// Get returns an exam with its questions.
func (c *Catalog) Get(ctx context.Context, id string) (model.Exam, error) {
	e, err := c.repo.GetExam(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exam{}, apperr.ErrExamNotFound
	}
	if err != nil {
		return model.Exam{}, fmt.Errorf("get exam: %w", err)
	}
	return e, nil
}

// ResolveByCode maps a join code to its exam.
func (c *Catalog) ResolveByCode(ctx context.Context, joinCode string) (model.Exam, error) {
	e, err := c.repo.GetExamByJoinCode(ctx, joinCode)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exam{}, apperr.ErrExamNotFound
	}
	if err != nil {
		return model.Exam{}, fmt.Errorf("resolve join code: %w", err)
	}
	return e, nil
}

// ListByCourse returns a course's exams without questions.
func (c *Catalog) ListByCourse(ctx context.Context, courseID string) ([]model.Exam, error) {
	return c.repo.ListExamsByCourse(ctx, courseID)
}

// AddQuestion appends a question while the exam is still editable.
func (c *Catalog) AddQuestion(ctx context.Context, examID string, q model.Question) (model.Exam, error) {
	if err := validate.Struct(q, "InvalidQuestion"); err != nil {
		return model.Exam{}, err
	}
	idx, ok, err := c.repo.AppendQuestion(ctx, examID, q, editableStatuses)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exam{}, apperr.ErrExamNotFound
	}
	if err != nil {
		return model.Exam{}, fmt.Errorf("append question: %w", err)
	}
	if !ok {
		return model.Exam{}, apperr.ErrExamLocked
	}
	slog.Info("question added", "exam_id", examID, "index", idx, "type", q.Type)
	return c.Get(ctx, examID)
}

var editableStatuses = []model.ExamStatus{model.ExamDraft, model.ExamPending, model.ExamPublished}

// Publish makes the exam visible and optionally (re)schedules it.
func (c *Catalog) Publish(ctx context.Context, examID string, scheduledAt *time.Time) (model.Exam, error) {
	e, err := c.Get(ctx, examID)
	if err != nil {
		return model.Exam{}, err
	}
	if len(e.Questions) == 0 {
		return model.Exam{}, apperr.ErrNoQuestions
	}
	if err := checkDeclaredTotal(e); err != nil {
		return model.Exam{}, err
	}
	return c.transition(ctx, e, model.ExamPublished, utcPtr(scheduledAt))
}

// Activate opens the exam for attempts. The current time must fall inside the exam window.
func (c *Catalog) Activate(ctx context.Context, examID string) (model.Exam, error) {
	e, err := c.Get(ctx, examID)
	if err != nil {
		return model.Exam{}, err
	}
	if !e.Status.CanTransition(model.ExamActive) {
		return model.Exam{}, apperr.Wrapf(apperr.ErrInvalidTransition, "%s -> %s", e.Status, model.ExamActive)
	}
	// questions may have been added since publishing
	if err := checkDeclaredTotal(e); err != nil {
		return model.Exam{}, err
	}
	if now := c.now().UTC(); !e.InWindow(now) {
		return model.Exam{}, apperr.Wrapf(apperr.ErrNotInWindow, "exam %s at %s", e.ID, now.Format(time.RFC3339))
	}
	return c.transition(ctx, e, model.ExamActive, nil)
}

// Complete closes an active exam.
func (c *Catalog) Complete(ctx context.Context, examID string) (model.Exam, error) {
	e, err := c.Get(ctx, examID)
	if err != nil {
		return model.Exam{}, err
	}
	return c.transition(ctx, e, model.ExamCompleted, nil)
}

// Archive retires a published or completed exam.
func (c *Catalog) Archive(ctx context.Context, examID string) (model.Exam, error) {
	e, err := c.Get(ctx, examID)
	if err != nil {
		return model.Exam{}, err
	}
	return c.transition(ctx, e, model.ExamArchived, nil)
}

func (c *Catalog) transition(ctx context.Context, e model.Exam, next model.ExamStatus, scheduledAt *time.Time) (model.Exam, error) {
	if !e.Status.CanTransition(next) {
		return model.Exam{}, apperr.Wrapf(apperr.ErrInvalidTransition, "%s -> %s", e.Status, next)
	}
	ok, err := c.repo.UpdateExamStatus(ctx, e.ID, e.Status, next, scheduledAt)
	if err != nil {
		return model.Exam{}, fmt.Errorf("update exam status: %w", err)
	}
	if !ok {
		return model.Exam{}, apperr.Wrapf(apperr.ErrInvalidTransition, "exam %s changed concurrently", e.ID)
	}
	slog.Info("exam status changed", "id", e.ID, "from", e.Status, "to", next)
	return c.Get(ctx, e.ID)
}

// checkDeclaredTotal rejects an exam whose declared total disagrees with its questions.
func checkDeclaredTotal(e model.Exam) error {
	if e.DeclaredTotalPoints > 0 && e.DeclaredTotalPoints != e.TotalPoints() {
		return apperr.Wrapf(apperr.ErrTotalPointsMismatch,
			"declared %d, questions sum to %d", e.DeclaredTotalPoints, e.TotalPoints())
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
