package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/llm"
	"github.com/pavelanni/tutorgate/internal/model"
)

// studentView hides answer keys and rubrics.
func studentView(e model.Exam) model.Exam {
	qs := make([]model.Question, len(e.Questions))
	for i, q := range e.Questions {
		q.CorrectAnswer = ""
		q.Rubric = ""
		qs[i] = q
	}
	e.Questions = qs
	return e
}

func (h *Handler) writeExam(w http.ResponseWriter, r *http.Request, status int, e model.Exam) {
	if p := model.PrincipalFromContext(r.Context()); p == nil || !p.IsStaff() {
		e = studentView(e)
	}
	writeJSON(w, status, e)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req model.NewExam
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p := model.PrincipalFromContext(r.Context())
	e, err := h.catalog.Create(r.Context(), req, p.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	e, err := h.catalog.Get(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeExam(w, r, http.StatusOK, e)
}

func (h *Handler) handleResolveExam(w http.ResponseWriter, r *http.Request) {
	e, err := h.catalog.ResolveByCode(r.Context(), chi.URLParam(r, "joinCode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeExam(w, r, http.StatusOK, e)
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.catalog.ListByCourse(r.Context(), chi.URLParam(r, "courseID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var q model.Question
	if err := decodeJSON(w, r, &q); err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.catalog.AddQuestion(r.Context(), chi.URLParam(r, "examID"), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type publishRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	e, err := h.catalog.Publish(r.Context(), chi.URLParam(r, "examID"), req.ScheduledAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleExamTransition(fn func(ctx context.Context, examID string) (model.Exam, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := fn(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

type startAttemptRequest struct {
	StudentID string `json:"student_id,omitempty"`
}

// handleStartAttempt opens (or returns) the caller's attempt. Staff start attempts on
// behalf of the student named in the body.
func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	p := model.PrincipalFromContext(r.Context())
	studentID := p.ID
	if p.IsStaff() {
		var req startAttemptRequest
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.checkStudent(r, req.StudentID); err != nil {
			h.writeError(w, r, err)
			return
		}
		studentID = req.StudentID
	}
	a, err := h.attempts.Start(r.Context(), chi.URLParam(r, "examID"), studentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// checkStudent verifies that a student named by staff exists.
func (h *Handler) checkStudent(r *http.Request, studentID string) error {
	if studentID == "" {
		return apperr.Validation("InvalidInput", apperr.FieldError{Field: "student_id", Error: "this field is required"})
	}
	st, err := h.store.GetStudent(r.Context(), studentID)
	if err != nil {
		return err
	}
	if st == nil {
		return apperr.Wrapf(apperr.ErrStudentNotFound, "student %s", studentID)
	}
	return nil
}

// ownAttempt loads an attempt the caller may see: staff see all, students their own.
func (h *Handler) ownAttempt(r *http.Request) (model.Attempt, error) {
	a, err := h.attempts.Get(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		return model.Attempt{}, err
	}
	if p := model.PrincipalFromContext(r.Context()); !p.IsStaff() && a.StudentID != p.ID {
		return model.Attempt{}, apperr.ErrAttemptNotFound
	}
	return a, nil
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.ownAttempt(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.ownAttempt(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var sub model.Submission
	if err := decodeJSON(w, r, &sub); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err = h.attempts.Submit(r.Context(), a.ID, sub)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type gradeRequest struct {
	Scores map[int]int `json:"scores"`
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p := model.PrincipalFromContext(r.Context())
	a, err := h.attempts.Grade(r.Context(), chi.URLParam(r, "attemptID"), p.ID, req.Scores)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		h.writeStatus(w, r, http.StatusServiceUnavailable, "AssistDisabled")
		return
	}
	a, err := h.attempts.Get(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if a.Status != model.AttemptSubmitted {
		h.writeError(w, r, apperr.Wrapf(apperr.ErrNotGradable, "attempt %s is %s", a.ID, a.Status))
		return
	}
	e, err := h.catalog.Get(r.Context(), a.ExamID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	suggestions := h.llm.SuggestForAttempt(r.Context(), e, a)
	if suggestions == nil {
		suggestions = []llm.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.attempts.ListForExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.attempts.Stats(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportExam(r.Context(), chi.URLParam(r, "examID"))
	if errors.Is(err, sql.ErrNoRows) {
		err = apperr.ErrExamNotFound
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Exam.ID+`.json"`)
	writeJSON(w, http.StatusOK, export)
}
