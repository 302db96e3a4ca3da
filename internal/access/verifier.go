package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/model"
)

// Enrollment answers membership questions owned by the school management service.
type Enrollment interface {
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
	IsCourseAssigned(ctx context.Context, courseID, classID string) (bool, error)
	ClassesForCourse(ctx context.Context, courseID string) ([]string, error)
	SchoolForClass(ctx context.Context, classID string) (string, error)
}

// ExamLookup resolves the exam behind an exam-scoped code.
type ExamLookup interface {
	GetExam(ctx context.Context, id string) (model.Exam, error)
}

// Verifier checks presented codes against their window, status and the caller's enrollment.
type Verifier struct {
	repo       CodeRepository
	enrollment Enrollment
	exams      ExamLookup
	now        func() time.Time
}

// NewVerifier creates a Verifier.
func NewVerifier(repo CodeRepository, enrollment Enrollment, exams ExamLookup, opts ...Option) *Verifier {
	o := buildOptions(opts)
	return &Verifier{repo: repo, enrollment: enrollment, exams: exams, now: o.now}
}

// Verify admits a student through a code. Unknown, inactive and expired codes all yield
// ErrCodeExpired so callers cannot learn which codes ever existed.
func (v *Verifier) Verify(ctx context.Context, req model.VerifyRequest) (model.VerificationResult, error) {
	if req.Code == "" || !isDigits(req.Code) {
		return model.VerificationResult{}, apperr.Validation("InvalidInput", apperr.FieldError{Field: "code", Error: "must be numeric"})
	}
	if !req.Scope.Kind.Valid() || req.Scope.TargetID == "" {
		return model.VerificationResult{}, apperr.Validation("InvalidInput", apperr.FieldError{Field: "scope", Error: "unknown scope"})
	}
	if req.StudentID == "" {
		return model.VerificationResult{}, apperr.Validation("InvalidInput", apperr.FieldError{Field: "student_id", Error: "required"})
	}

	code, err := v.repo.FindUsableCode(ctx, req.Code, req.Scope, v.now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		slog.Info("rejected access code", "scope", req.Scope.Kind, "target", req.Scope.TargetID, "student_id", req.StudentID)
		return model.VerificationResult{}, apperr.ErrCodeExpired
	}
	if err != nil {
		return model.VerificationResult{}, fmt.Errorf("find code: %w", err)
	}

	var res model.VerificationResult
	switch req.Scope.Kind {
	case model.ScopeClass:
		res, err = v.authorizeClass(ctx, req.Scope.TargetID, req)
	case model.ScopeExam:
		res, err = v.authorizeExam(ctx, req.Scope.TargetID, req)
	}
	if err != nil {
		return model.VerificationResult{}, err
	}
	res.CodeID = code.ID
	slog.Info("verified access code", "code_id", code.ID, "scope", req.Scope.Kind, "student_id", req.StudentID)
	return res, nil
}

func (v *Verifier) authorizeClass(ctx context.Context, classID string, req model.VerifyRequest) (model.VerificationResult, error) {
	enrolled, err := v.enrollment.IsEnrolled(ctx, req.StudentID, classID)
	if err != nil {
		return model.VerificationResult{}, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return model.VerificationResult{}, apperr.ErrNotEnrolled
	}
	if req.CourseID != "" {
		assigned, err := v.enrollment.IsCourseAssigned(ctx, req.CourseID, classID)
		if err != nil {
			return model.VerificationResult{}, fmt.Errorf("check course assignment: %w", err)
		}
		if !assigned {
			return model.VerificationResult{}, apperr.ErrNotAssigned
		}
	}
	schoolID, err := v.enrollment.SchoolForClass(ctx, classID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.VerificationResult{}, fmt.Errorf("resolve school: %w", err)
	}
	return model.VerificationResult{SchoolID: schoolID, ClassID: classID}, nil
}

// authorizeExam admits students enrolled in any class the exam's course is assigned to.
// Exams whose course has no class assignment are open to any student holding the code.
func (v *Verifier) authorizeExam(ctx context.Context, examID string, req model.VerifyRequest) (model.VerificationResult, error) {
	exam, err := v.exams.GetExam(ctx, examID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VerificationResult{}, apperr.ErrExamNotFound
	}
	if err != nil {
		return model.VerificationResult{}, fmt.Errorf("get exam: %w", err)
	}
	if req.CourseID != "" && req.CourseID != exam.CourseID {
		return model.VerificationResult{}, apperr.ErrNotAssigned
	}

	classes, err := v.enrollment.ClassesForCourse(ctx, exam.CourseID)
	if err != nil {
		return model.VerificationResult{}, fmt.Errorf("list course classes: %w", err)
	}
	res := model.VerificationResult{ExamID: exam.ID}
	if len(classes) == 0 {
		return res, nil
	}
	for _, classID := range classes {
		enrolled, err := v.enrollment.IsEnrolled(ctx, req.StudentID, classID)
		if err != nil {
			return model.VerificationResult{}, fmt.Errorf("check enrollment: %w", err)
		}
		if enrolled {
			res.ClassID = classID
			res.SchoolID, err = v.enrollment.SchoolForClass(ctx, classID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return model.VerificationResult{}, fmt.Errorf("resolve school: %w", err)
			}
			return res, nil
		}
	}
	return model.VerificationResult{}, apperr.ErrNotEnrolled
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
