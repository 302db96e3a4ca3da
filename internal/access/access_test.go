package access

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/store"
)

var t0 = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// scriptedDigits replays a fixed sequence, repeating the last entry.
type scriptedDigits struct {
	mu    sync.Mutex
	seq   []string
	calls int
}

func (d *scriptedDigits) Digits(int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := min(d.calls, len(d.seq)-1)
	d.calls++
	return d.seq[i], nil
}

type fixture struct {
	store    *store.Store
	clock    *fakeClock
	issuer   *Issuer
	verifier *Verifier
	classA   model.Scope
}

func newFixture(t *testing.T, digits DigitSource) *fixture {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.CreateSchool(ctx, "sch-1", "abc", "ABC Academy"))
	must(s.CreateClass(ctx, "class-a", "sch-1", "Year 5"))
	must(s.CreateClass(ctx, "class-b", "sch-1", "Year 6"))
	must(s.CreateStudent(ctx, model.Student{ID: "stu-1", SchoolID: "sch-1", ClassID: "class-a", FirstName: "Jane", LastName: "Doe"}))
	must(s.CreateStudent(ctx, model.Student{ID: "stu-2", SchoolID: "sch-1", ClassID: "class-b", FirstName: "John", LastName: "Roe"}))
	must(s.AssignCourse(ctx, "math", "class-a"))

	clock := &fakeClock{t: t0}
	opts := []Option{WithClock(clock.Now)}
	if digits != nil {
		opts = append(opts, WithDigits(digits))
	}
	return &fixture{
		store:    s,
		clock:    clock,
		issuer:   NewIssuer(s, opts...),
		verifier: NewVerifier(s, s, s, opts...),
		classA:   model.Scope{Kind: model.ScopeClass, TargetID: "class-a"},
	}
}

func (f *fixture) generate(t *testing.T, scope model.Scope, length int) model.AccessCode {
	t.Helper()
	c, err := f.issuer.Generate(context.Background(), GenerateRequest{
		Scope: scope, Length: length, Window: 24 * time.Hour, GeneratedBy: "tutor-1",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return c
}

func TestCryptoDigits(t *testing.T) {
	d := CryptoDigits{Reader: bytes.NewReader(bytes.Repeat([]byte{0}, 64))}
	got, err := d.Digits(4)
	if err != nil {
		t.Fatalf("Digits: %v", err)
	}
	if got != "0000" {
		t.Errorf("zero reader should give leading zeros, got %q", got)
	}

	got, err = CryptoDigits{}.Digits(8)
	if err != nil || len(got) != 8 || !isDigits(got) {
		t.Errorf("Digits(8) = %q, %v", got, err)
	}
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, &scriptedDigits{seq: []string{"482"}})
	c := f.generate(t, f.classA, 3)

	if c.Code != "482" {
		t.Errorf("code = %q, want 482", c.Code)
	}
	if c.Status != model.CodeActive {
		t.Errorf("status = %s, want active", c.Status)
	}
	if !c.ValidFrom.Equal(t0) || !c.ValidUntil.Equal(t0.Add(24*time.Hour)) {
		t.Errorf("window = [%v, %v)", c.ValidFrom, c.ValidUntil)
	}
	stored, err := f.store.GetAccessCode(context.Background(), c.ID)
	if err != nil || stored.Code != "482" || stored.GeneratedBy != "tutor-1" {
		t.Errorf("stored = %+v, %v", stored, err)
	}
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tests := []struct {
		name string
		req  GenerateRequest
		want error
	}{
		{"too short", GenerateRequest{Scope: f.classA, Length: 2, Window: time.Hour}, apperr.ErrInvalidCodeLength},
		{"too long", GenerateRequest{Scope: f.classA, Length: 13, Window: time.Hour}, apperr.ErrInvalidCodeLength},
		{"bad scope", GenerateRequest{Scope: model.Scope{Kind: "room", TargetID: "x"}, Length: 6, Window: time.Hour}, apperr.ErrInvalidInput},
		{"no window", GenerateRequest{Scope: f.classA, Length: 6}, apperr.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.issuer.Generate(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateSkipsActiveCollision(t *testing.T) {
	digits := &scriptedDigits{seq: []string{"482", "482", "482", "123"}}
	f := newFixture(t, digits)

	first := f.generate(t, f.classA, 3)
	second := f.generate(t, f.classA, 3)
	if first.Code != "482" || second.Code != "123" {
		t.Fatalf("codes = %q, %q", first.Code, second.Code)
	}
	if digits.calls != 4 {
		t.Errorf("digit draws = %d, want 4", digits.calls)
	}
}

func TestGenerateExhausted(t *testing.T) {
	digits := &scriptedDigits{seq: []string{"482"}}
	f := newFixture(t, digits)
	f.generate(t, f.classA, 3)

	_, err := f.issuer.Generate(context.Background(), GenerateRequest{Scope: f.classA, Length: 3, Window: time.Hour})
	if !errors.Is(err, apperr.ErrCodeGenerationExhausted) {
		t.Fatalf("got %v, want ErrCodeGenerationExhausted", err)
	}
	if !apperr.Retryable(err) {
		t.Error("exhaustion should be retryable")
	}
	if digits.calls != 1+MaxAttempts {
		t.Errorf("digit draws = %d, want %d", digits.calls, 1+MaxAttempts)
	}
}

// racyRepo pretends every code is free but always loses the insert race.
type racyRepo struct {
	*store.Store
	inserts int
}

func (r *racyRepo) ActiveCodeExists(context.Context, string) (bool, error) { return false, nil }

func (r *racyRepo) InsertAccessCode(context.Context, model.AccessCode) error {
	r.inserts++
	return store.ErrDuplicate
}

func TestGenerateRetriesAfterLostRace(t *testing.T) {
	f := newFixture(t, &scriptedDigits{seq: []string{"555"}})
	repo := &racyRepo{Store: f.store}
	iss := NewIssuer(repo, WithClock(f.clock.Now), WithDigits(&scriptedDigits{seq: []string{"555"}}))

	_, err := iss.Generate(context.Background(), GenerateRequest{Scope: f.classA, Length: 3, Window: time.Hour})
	if !errors.Is(err, apperr.ErrCodeGenerationExhausted) {
		t.Fatalf("got %v, want exhausted", err)
	}
	if repo.inserts != 2*MaxAttempts {
		t.Errorf("inserts = %d, want one extra round (%d)", repo.inserts, 2*MaxAttempts)
	}
}

func TestConcurrentGenerateUnique(t *testing.T) {
	f := newFixture(t, nil)
	const n = 40

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes []string
		errs  []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := f.issuer.Generate(context.Background(), GenerateRequest{Scope: f.classA, Length: 3, Window: time.Hour})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			codes = append(codes, c.Code)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if !apperr.Retryable(err) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	seen := make(map[string]bool)
	for _, c := range codes {
		if seen[c] {
			t.Fatalf("duplicate active code %q", c)
		}
		seen[c] = true
	}
}

func TestCodeLifecycleScenario(t *testing.T) {
	f := newFixture(t, &scriptedDigits{seq: []string{"482"}})
	ctx := context.Background()
	c := f.generate(t, f.classA, 3)

	req := model.VerifyRequest{Code: "482", Scope: f.classA, StudentID: "stu-1"}

	f.clock.Set(t0.Add(23 * time.Hour))
	res, err := f.verifier.Verify(ctx, req)
	if err != nil {
		t.Fatalf("Verify at T+23h: %v", err)
	}
	if res.SchoolID != "sch-1" || res.ClassID != "class-a" || res.CodeID != c.ID {
		t.Errorf("result = %+v", res)
	}

	n, err := f.issuer.SweepExpired(ctx, t0.Add(25*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("SweepExpired: n=%d err=%v", n, err)
	}
	stored, _ := f.store.GetAccessCode(ctx, c.ID)
	if stored.Status != model.CodeExpired {
		t.Errorf("status after sweep = %s", stored.Status)
	}

	f.clock.Set(t0.Add(25 * time.Hour))
	if _, err := f.verifier.Verify(ctx, req); !errors.Is(err, apperr.ErrCodeExpired) {
		t.Fatalf("Verify at T+25h: got %v, want ErrCodeExpired", err)
	}
	if apperr.KindOf(err) == apperr.KindNotFound {
		t.Error("expired code must not be reported as not found")
	}
}

func TestVerifyWindowIgnoresUnsweptStatus(t *testing.T) {
	f := newFixture(t, &scriptedDigits{seq: []string{"777"}})
	ctx := context.Background()
	f.generate(t, f.classA, 3)
	req := model.VerifyRequest{Code: "777", Scope: f.classA, StudentID: "stu-1"}

	for _, offset := range []time.Duration{0, time.Hour, 24*time.Hour - time.Millisecond} {
		f.clock.Set(t0.Add(offset))
		if _, err := f.verifier.Verify(ctx, req); err != nil {
			t.Errorf("at T+%v: unexpected %v", offset, err)
		}
	}
	// No sweep has run, so the row is still active.
	for _, offset := range []time.Duration{24 * time.Hour, 48 * time.Hour} {
		f.clock.Set(t0.Add(offset))
		if _, err := f.verifier.Verify(ctx, req); !errors.Is(err, apperr.ErrCodeExpired) {
			t.Errorf("at T+%v: got %v, want ErrCodeExpired", offset, err)
		}
	}
}

func TestVerifyAuthorization(t *testing.T) {
	f := newFixture(t, &scriptedDigits{seq: []string{"101", "202"}})
	ctx := context.Background()
	f.generate(t, f.classA, 3)

	examScope := model.Scope{Kind: model.ScopeExam, TargetID: "exam-1"}
	err := f.store.CreateExam(ctx, model.Exam{ID: "exam-1", CourseID: "math", Title: "Quiz", JoinCode: "QUIZ01", Status: model.ExamActive, Duration: 20, CreatedAt: t0})
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	f.generate(t, examScope, 3)

	tests := []struct {
		name string
		req  model.VerifyRequest
		want error
	}{
		{"unknown code", model.VerifyRequest{Code: "999", Scope: f.classA, StudentID: "stu-1"}, apperr.ErrCodeExpired},
		{"wrong scope", model.VerifyRequest{Code: "101", Scope: model.Scope{Kind: model.ScopeClass, TargetID: "class-b"}, StudentID: "stu-2"}, apperr.ErrCodeExpired},
		{"not enrolled", model.VerifyRequest{Code: "101", Scope: f.classA, StudentID: "stu-2"}, apperr.ErrNotEnrolled},
		{"course not assigned", model.VerifyRequest{Code: "101", Scope: f.classA, StudentID: "stu-1", CourseID: "art"}, apperr.ErrNotAssigned},
		{"course assigned", model.VerifyRequest{Code: "101", Scope: f.classA, StudentID: "stu-1", CourseID: "math"}, nil},
		{"non-numeric", model.VerifyRequest{Code: "1a1", Scope: f.classA, StudentID: "stu-1"}, apperr.ErrInvalidInput},
		{"exam enrolled", model.VerifyRequest{Code: "202", Scope: examScope, StudentID: "stu-1"}, nil},
		{"exam not enrolled", model.VerifyRequest{Code: "202", Scope: examScope, StudentID: "stu-2"}, apperr.ErrNotEnrolled},
		{"exam other course", model.VerifyRequest{Code: "202", Scope: examScope, StudentID: "stu-1", CourseID: "art"}, apperr.ErrNotAssigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.verifier.Verify(ctx, tt.req)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	res, err := f.verifier.Verify(ctx, model.VerifyRequest{Code: "202", Scope: examScope, StudentID: "stu-1"})
	if err != nil || res.ExamID != "exam-1" || res.ClassID != "class-a" {
		t.Errorf("exam verification = %+v, %v", res, err)
	}
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t, &scriptedDigits{seq: []string{"482", "482"}})
	ctx := context.Background()
	c := f.generate(t, f.classA, 3)

	f.clock.Set(t0.Add(time.Hour))
	off, err := f.issuer.SetStatus(ctx, c.ID, model.CodeInactive)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if off.DeactivatedAt == nil || !off.DeactivatedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("deactivated_at = %v", off.DeactivatedAt)
	}

	// Inactive codes do not admit anyone.
	if _, err := f.verifier.Verify(ctx, model.VerifyRequest{Code: "482", Scope: f.classA, StudentID: "stu-1"}); !errors.Is(err, apperr.ErrCodeExpired) {
		t.Errorf("verify inactive: got %v", err)
	}

	// The digits are free again, so a new code may take them.
	again := f.generate(t, f.classA, 3)
	if again.Code != "482" {
		t.Fatalf("reissued code = %q", again.Code)
	}
	if _, err := f.issuer.SetStatus(ctx, c.ID, model.CodeActive); !errors.Is(err, apperr.ErrCodeInUse) {
		t.Errorf("reactivating shadowed code: got %v, want ErrCodeInUse", err)
	}

	if _, err := f.issuer.SetStatus(ctx, c.ID, model.CodeExpired); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, err := f.issuer.SetStatus(ctx, c.ID, model.CodeActive); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("reactivating expired code: got %v, want ErrInvalidTransition", err)
	}
	if _, err := f.issuer.SetStatus(ctx, "nope", model.CodeInactive); !errors.Is(err, apperr.ErrCodeNotFound) {
		t.Errorf("unknown id: got %v", err)
	}
}

func TestSetStatusReactivate(t *testing.T) {
	f := newFixture(t, &scriptedDigits{seq: []string{"314"}})
	ctx := context.Background()
	c := f.generate(t, f.classA, 3)

	if _, err := f.issuer.SetStatus(ctx, c.ID, model.CodeInactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	f.clock.Set(t0.Add(2 * time.Hour))
	on, err := f.issuer.SetStatus(ctx, c.ID, model.CodeActive)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if on.ActivatedAt == nil || !on.ActivatedAt.Equal(t0.Add(2*time.Hour)) || on.DeactivatedAt != nil {
		t.Errorf("after reactivation: activated=%v deactivated=%v", on.ActivatedAt, on.DeactivatedAt)
	}
	if _, err := f.verifier.Verify(ctx, model.VerifyRequest{Code: "314", Scope: f.classA, StudentID: "stu-1"}); err != nil {
		t.Errorf("verify reactivated: %v", err)
	}
}
