package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/tutorgate/internal/access"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/store"
)

var t0 = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

func TestRunOnce(t *testing.T) {
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	now := t0
	clock := func() time.Time { return now }
	iss := access.NewIssuer(s, access.WithClock(clock))
	for _, target := range []string{"class-a", "class-b"} {
		if _, err := iss.Generate(ctx, access.GenerateRequest{
			Scope:  model.Scope{Kind: model.ScopeClass, TargetID: target},
			Length: 4,
			Window: 24 * time.Hour,
		}); err != nil {
			t.Fatal(err)
		}
	}

	sw := New(iss, s, clock)

	now = t0.Add(time.Hour)
	res, err := sw.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Codes != 0 {
		t.Errorf("early sweep expired %d codes", res.Codes)
	}

	now = t0.Add(25 * time.Hour)
	res, err = sw.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Codes != 2 {
		t.Errorf("codes = %d, want 2", res.Codes)
	}

	res, err = sw.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Codes != 0 {
		t.Errorf("repeat sweep expired %d codes, want 0", res.Codes)
	}

	last, err := s.LastSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !last.Equal(now) {
		t.Errorf("last sweep = %v, want %v", last, now)
	}
}

type failingExpirer struct{}

func (failingExpirer) SweepExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("disk full")
}

func TestRunOnceError(t *testing.T) {
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := New(failingExpirer{}, s, nil).RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	last, err := s.LastSweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !last.IsZero() {
		t.Errorf("failed sweep was recorded at %v", last)
	}
}

func TestSchedule(t *testing.T) {
	sw := New(failingExpirer{}, nil, nil)

	if _, err := sw.Schedule("not a schedule"); err == nil {
		t.Error("expected error for invalid schedule")
	}

	c, err := sw.Schedule("@every 1h")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if n := len(c.Entries()); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
	<-c.Stop().Done()
}
