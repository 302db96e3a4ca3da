package exam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/store"
)

var t0 = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

func newTestCatalog(t *testing.T, now *time.Time, opts ...Option) (*Catalog, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	opts = append([]Option{WithClock(func() time.Time { return *now })}, opts...)
	return NewCatalog(s, opts...), s
}

func mcQuestion(points int) model.Question {
	return model.Question{
		Text: "Pick B", Type: model.MultipleChoice,
		Options: []string{"A", "B", "C"}, CorrectAnswer: "B", Points: points,
	}
}

func TestRandomJoinCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := RandomJoinCode()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != JoinCodeLength {
			t.Fatalf("len(%q) = %d", code, len(code))
		}
		for _, r := range code {
			if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				t.Fatalf("unexpected rune %q in %q", r, code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Errorf("only %d distinct codes out of 50", len(seen))
	}
}

func TestCreate(t *testing.T) {
	now := t0
	cat, _ := newTestCatalog(t, &now)
	ctx := context.Background()

	e, err := cat.Create(ctx, model.NewExam{
		CourseID: "math", Title: "Fractions", Duration: 30,
		Questions: []model.Question{mcQuestion(2), {Text: "Explain", Type: model.Essay, Points: 8}},
	}, "tutor-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.Status != model.ExamDraft || e.TotalPoints() != 10 || len(e.JoinCode) != JoinCodeLength {
		t.Errorf("created = %+v", e)
	}

	got, err := cat.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Questions) != 2 || got.Questions[1].Index != 1 || got.Questions[0].Options[1] != "B" {
		t.Errorf("questions = %+v", got.Questions)
	}

	byCode, err := cat.ResolveByCode(ctx, e.JoinCode)
	if err != nil || byCode.ID != e.ID {
		t.Errorf("ResolveByCode = %v, %v", byCode.ID, err)
	}
	if _, err := cat.ResolveByCode(ctx, "NOPE00"); !errors.Is(err, apperr.ErrExamNotFound) {
		t.Errorf("unknown join code: got %v", err)
	}
	if _, err := cat.Get(ctx, "missing"); !errors.Is(err, apperr.ErrExamNotFound) {
		t.Errorf("unknown exam: got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	now := t0
	cat, _ := newTestCatalog(t, &now)
	ctx := context.Background()
	end := t0.Add(-time.Hour)

	tests := []struct {
		name string
		ne   model.NewExam
		want error
	}{
		{"missing title", model.NewExam{CourseID: "math", Duration: 30}, apperr.ErrInvalidInput},
		{"zero duration", model.NewExam{CourseID: "math", Title: "x"}, apperr.ErrInvalidInput},
		{"bad question", model.NewExam{CourseID: "math", Title: "x", Duration: 10,
			Questions: []model.Question{{Text: "?", Type: model.MultipleChoice, Options: []string{"a"}, CorrectAnswer: "b", Points: 1}}}, apperr.ErrInvalidInput},
		{"end before start", model.NewExam{CourseID: "math", Title: "x", Duration: 10, StartDate: &t0, EndDate: &end}, apperr.ErrInvalidInput},
		{"declared mismatch", model.NewExam{CourseID: "math", Title: "x", Duration: 10, DeclaredTotalPoints: 5,
			Questions: []model.Question{mcQuestion(2)}}, apperr.ErrTotalPointsMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cat.Create(ctx, tt.ne, "tutor-1")
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateRetriesJoinCode(t *testing.T) {
	now := t0
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	calls := 0
	gen := func() (string, error) {
		c := codes[min(calls, len(codes)-1)]
		calls++
		return c, nil
	}
	cat, _ := newTestCatalog(t, &now, WithJoinCodes(gen))
	ctx := context.Background()
	ne := model.NewExam{CourseID: "math", Title: "x", Duration: 10}

	first, err := cat.Create(ctx, ne, "tutor-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := cat.Create(ctx, ne, "tutor-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.JoinCode != "AAAAAA" || second.JoinCode != "BBBBBB" || calls != 3 {
		t.Errorf("join codes %q, %q after %d draws", first.JoinCode, second.JoinCode, calls)
	}
}

func TestLifecycle(t *testing.T) {
	now := t0
	cat, _ := newTestCatalog(t, &now)
	ctx := context.Background()

	e, err := cat.Create(ctx, model.NewExam{CourseID: "math", Title: "Quiz", Duration: 30}, "tutor-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cat.Publish(ctx, e.ID, nil); !errors.Is(err, apperr.ErrNoQuestions) {
		t.Fatalf("publish without questions: got %v", err)
	}
	if _, err := cat.AddQuestion(ctx, e.ID, mcQuestion(1)); err != nil {
		t.Fatalf("AddQuestion: %v", err)
	}
	if _, err := cat.Activate(ctx, e.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("activate draft: got %v", err)
	}

	start := t0.Add(time.Hour)
	pub, err := cat.Publish(ctx, e.ID, &start)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if pub.Status != model.ExamPublished || pub.ScheduledAt == nil || !pub.ScheduledAt.Equal(start) {
		t.Errorf("published = %+v", pub)
	}

	// Published exams are still editable.
	if _, err := cat.AddQuestion(ctx, e.ID, mcQuestion(1)); err != nil {
		t.Fatalf("AddQuestion on published: %v", err)
	}

	if _, err := cat.Activate(ctx, e.ID); !errors.Is(err, apperr.ErrNotInWindow) {
		t.Fatalf("activate before window: got %v", err)
	}
	now = start.Add(30 * time.Minute)
	act, err := cat.Activate(ctx, e.ID)
	if err != nil {
		t.Fatalf("Activate at window end: %v", err)
	}
	if act.Status != model.ExamActive {
		t.Errorf("status = %s", act.Status)
	}

	if _, err := cat.AddQuestion(ctx, e.ID, mcQuestion(1)); !errors.Is(err, apperr.ErrExamLocked) {
		t.Errorf("AddQuestion on active: got %v", err)
	}
	if _, err := cat.Archive(ctx, e.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("archive active: got %v", err)
	}
	if _, err := cat.Complete(ctx, e.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := cat.AddQuestion(ctx, e.ID, mcQuestion(1)); !errors.Is(err, apperr.ErrExamLocked) {
		t.Errorf("AddQuestion on completed: got %v", err)
	}
	arch, err := cat.Archive(ctx, e.ID)
	if err != nil || arch.Status != model.ExamArchived {
		t.Fatalf("Archive: %v, %v", arch.Status, err)
	}
	if _, err := cat.Publish(ctx, e.ID, nil); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("publish archived: got %v", err)
	}
}

func TestActivateWindowFromDates(t *testing.T) {
	now := t0
	cat, _ := newTestCatalog(t, &now)
	ctx := context.Background()
	end := t0.Add(2 * time.Hour)

	e, err := cat.Create(ctx, model.NewExam{
		CourseID: "math", Title: "Quiz", Duration: 30, StartDate: &t0, EndDate: &end,
		Questions: []model.Question{mcQuestion(1)},
	}, "tutor-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cat.Publish(ctx, e.ID, nil); err != nil {
		t.Fatal(err)
	}

	// endDate overrides the duration-derived end.
	now = t0.Add(90 * time.Minute)
	if _, err := cat.Activate(ctx, e.ID); err != nil {
		t.Fatalf("Activate inside [start, end]: %v", err)
	}
}

func TestActivateUnscheduled(t *testing.T) {
	now := t0
	cat, _ := newTestCatalog(t, &now)
	ctx := context.Background()
	e, err := cat.Create(ctx, model.NewExam{CourseID: "math", Title: "Quiz", Duration: 30,
		Questions: []model.Question{mcQuestion(1)}}, "tutor-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cat.Publish(ctx, e.ID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.Activate(ctx, e.ID); !errors.Is(err, apperr.ErrNotInWindow) {
		t.Errorf("activate unscheduled: got %v", err)
	}
}

func TestAddQuestionValidation(t *testing.T) {
	now := t0
	cat, _ := newTestCatalog(t, &now)
	ctx := context.Background()
	e, err := cat.Create(ctx, model.NewExam{CourseID: "math", Title: "Quiz", Duration: 30}, "tutor-1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = cat.AddQuestion(ctx, e.ID, model.Question{Text: "?", Type: model.TrueFalse, Points: 1})
	if !errors.Is(err, apperr.ErrInvalidQuestion) {
		t.Errorf("tf without answer: got %v", err)
	}
	if _, err := cat.AddQuestion(ctx, "missing", mcQuestion(1)); !errors.Is(err, apperr.ErrExamNotFound) {
		t.Errorf("unknown exam: got %v", err)
	}
}

func TestPublishDeclaredTotal(t *testing.T) {
	now := t0
	cat, _ := newTestCatalog(t, &now)
	ctx := context.Background()
	e, err := cat.Create(ctx, model.NewExam{CourseID: "math", Title: "Quiz", Duration: 30, DeclaredTotalPoints: 3}, "tutor-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cat.AddQuestion(ctx, e.ID, mcQuestion(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.Publish(ctx, e.ID, nil); !errors.Is(err, apperr.ErrTotalPointsMismatch) {
		t.Fatalf("publish 2 of 3 points: got %v", err)
	}
	if _, err := cat.AddQuestion(ctx, e.ID, mcQuestion(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.Publish(ctx, e.ID, nil); err != nil {
		t.Errorf("publish 3 of 3 points: %v", err)
	}
}

func TestActivateDeclaredTotal(t *testing.T) {
	now := t0
	cat, _ := newTestCatalog(t, &now)
	ctx := context.Background()
	e, err := cat.Create(ctx, model.NewExam{CourseID: "math", Title: "Quiz", Duration: 30, DeclaredTotalPoints: 3}, "tutor-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cat.AddQuestion(ctx, e.ID, mcQuestion(3)); err != nil {
		t.Fatal(err)
	}
	opens := t0
	if _, err := cat.Publish(ctx, e.ID, &opens); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.AddQuestion(ctx, e.ID, mcQuestion(5)); err != nil {
		t.Fatal(err)
	}

	now = t0.Add(time.Minute)
	if _, err := cat.Activate(ctx, e.ID); !errors.Is(err, apperr.ErrTotalPointsMismatch) {
		t.Fatalf("activate with 8 of 3 declared points: got %v", err)
	}
	got, err := cat.Get(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ExamPublished {
		t.Errorf("status = %s, want published", got.Status)
	}
}
