// Package sweeper expires stale access codes and auth sessions on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// runTimeout bounds a single scheduled run.
const runTimeout = 4 * time.Minute

// CodeExpirer marks codes past their validity window as expired.
type CodeExpirer interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Housekeeping is the store side of a sweep.
type Housekeeping interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
	RecordSweep(ctx context.Context, at time.Time) error
}

// Result summarizes one sweep.
type Result struct {
	Codes    int
	Sessions int64
	At       time.Time
}

// Sweeper runs the expiry sweep.
type Sweeper struct {
	codes CodeExpirer
	store Housekeeping
	now   func() time.Time
}

// New creates a Sweeper. now defaults to time.Now when nil.
func New(codes CodeExpirer, store Housekeeping, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{codes: codes, store: store, now: now}
}

// RunOnce performs a single sweep. It is safe to run repeatedly and concurrently with
// verification; codes past their window are already rejected by the verifier.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	at := s.now().UTC()
	n, err := s.codes.SweepExpired(ctx, at)
	if err != nil {
		return Result{}, err
	}
	sessions, err := s.store.CleanupExpiredSessions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("cleanup sessions: %w", err)
	}
	if err := s.store.RecordSweep(ctx, at); err != nil {
		return Result{}, fmt.Errorf("record sweep: %w", err)
	}
	return Result{Codes: n, Sessions: sessions, At: at}, nil
}

// Schedule registers the sweep on a cron schedule and starts it. Overlapping runs are
// skipped. The caller stops the returned cron on shutdown.
func (s *Sweeper) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		res, err := s.RunOnce(ctx)
		if err != nil {
			slog.Error("sweep failed", "error", err)
			return
		}
		slog.Info("sweep finished", "codes", res.Codes, "sessions", res.Sessions)
	})
	if err != nil {
		return nil, fmt.Errorf("add sweep schedule %q: %w", spec, err)
	}
	c.Start()
	slog.Info("sweeper started", "schedule", spec)
	return c, nil
}
