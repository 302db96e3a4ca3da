// Package access issues and verifies short numeric access codes for class sessions and exams.
package access

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/store"
)

const (
	// MaxAttempts bounds the generate-and-check loop.
	MaxAttempts = 10

	MinCodeLength     = 3
	MaxCodeLength     = 12
	DefaultCodeLength = 6

	DefaultClassWindow = 24 * time.Hour
)

// CodeRepository persists access codes.
type CodeRepository interface {
	InsertAccessCode(ctx context.Context, c model.AccessCode) error
	ActiveCodeExists(ctx context.Context, code string) (bool, error)
	GetAccessCode(ctx context.Context, id string) (model.AccessCode, error)
	FindUsableCode(ctx context.Context, code string, scope model.Scope, now time.Time) (model.AccessCode, error)
	UpdateCodeStatus(ctx context.Context, id string, from, to model.CodeStatus, now time.Time) (bool, error)
	ExpireCodes(ctx context.Context, now time.Time) (int64, error)
	ListAccessCodes(ctx context.Context, scope model.Scope) ([]model.AccessCode, error)
}

// DigitSource produces uniformly random decimal digit strings.
type DigitSource interface {
	Digits(n int) (string, error)
}

// CryptoDigits draws digits from crypto/rand, or from Reader when set.
type CryptoDigits struct {
	Reader io.Reader
}

// Digits returns n random decimal digits; leading zeros are kept.
func (d CryptoDigits) Digits(n int) (string, error) {
	r := d.Reader
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, n)
	ten := big.NewInt(10)
	for i := range buf {
		v, err := rand.Int(r, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + v.Int64())
	}
	return string(buf), nil
}

// Issuer generates access codes and owns their status transitions.
type Issuer struct {
	repo   CodeRepository
	digits DigitSource
	now    func() time.Time
}

// Option configures an Issuer or Verifier.
type Option func(*options)

type options struct {
	digits DigitSource
	now    func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDigits overrides the random digit source.
func WithDigits(d DigitSource) Option {
	return func(o *options) { o.digits = d }
}

func buildOptions(opts []Option) options {
	o := options{digits: CryptoDigits{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewIssuer creates an Issuer backed by repo.
func NewIssuer(repo CodeRepository, opts ...Option) *Issuer {
	o := buildOptions(opts)
	return &Issuer{repo: repo, digits: o.digits, now: o.now}
}

// GenerateRequest describes a code to issue.
type GenerateRequest struct {
	Scope       model.Scope
	Length      int
	Window      time.Duration
	GeneratedBy string
}

// Generate issues a new active code whose digits are unique among active codes.
//
// The existence check only avoids obvious collisions. The store's unique index on active
// codes decides races: a lost insert counts as a collision. If a full round of attempts
// ends on a lost race, one more round runs before giving up.
func (iss *Issuer) Generate(ctx context.Context, req GenerateRequest) (model.AccessCode, error) {
	if !req.Scope.Kind.Valid() || req.Scope.TargetID == "" {
		return model.AccessCode{}, apperr.Validation("InvalidInput", apperr.FieldError{Field: "scope", Error: "unknown scope"})
	}
	if req.Length < MinCodeLength || req.Length > MaxCodeLength {
		return model.AccessCode{}, apperr.Wrapf(apperr.ErrInvalidCodeLength, "length %d outside [%d, %d]", req.Length, MinCodeLength, MaxCodeLength)
	}
	if req.Window <= 0 {
		return model.AccessCode{}, apperr.Validation("InvalidInput", apperr.FieldError{Field: "window", Error: "must be positive"})
	}

	for round := 0; round < 2; round++ {
		raced := false
		for i := 0; i < MaxAttempts; i++ {
			digits, err := iss.digits.Digits(req.Length)
			if err != nil {
				return model.AccessCode{}, fmt.Errorf("draw digits: %w", err)
			}
			taken, err := iss.repo.ActiveCodeExists(ctx, digits)
			if err != nil {
				return model.AccessCode{}, fmt.Errorf("check code: %w", err)
			}
			if taken {
				continue
			}

			now := iss.now().UTC()
			c := model.AccessCode{
				ID:          uuid.NewString(),
				Code:        digits,
				Scope:       req.Scope,
				Status:      model.CodeActive,
				ValidFrom:   now,
				ValidUntil:  now.Add(req.Window),
				GeneratedBy: req.GeneratedBy,
				GeneratedAt: now,
				ActivatedAt: &now,
			}
			err = iss.repo.InsertAccessCode(ctx, c)
			if errors.Is(err, store.ErrDuplicate) {
				slog.Debug("access code insert lost race", "round", round, "attempt", i)
				raced = true
				continue
			}
			if err != nil {
				return model.AccessCode{}, fmt.Errorf("insert code: %w", err)
			}
			slog.Info("issued access code",
				"id", c.ID, "scope", c.Scope.Kind, "target", c.Scope.TargetID,
				"valid_until", c.ValidUntil, "generated_by", c.GeneratedBy)
			return c, nil
		}
		if !raced {
			break
		}
	}

	slog.Warn("access code generation exhausted", "scope", req.Scope.Kind, "target", req.Scope.TargetID, "length", req.Length)
	return model.AccessCode{}, apperr.ErrCodeGenerationExhausted
}

// SetStatus moves a code to a new status. Expired is terminal.
func (iss *Issuer) SetStatus(ctx context.Context, id string, next model.CodeStatus) (model.AccessCode, error) {
	if !next.Valid() {
		return model.AccessCode{}, apperr.Validation("InvalidInput", apperr.FieldError{Field: "status", Error: "unknown status"})
	}
	cur, err := iss.repo.GetAccessCode(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AccessCode{}, apperr.ErrCodeNotFound
	}
	if err != nil {
		return model.AccessCode{}, fmt.Errorf("get code: %w", err)
	}
	if !cur.Status.CanTransition(next) {
		return model.AccessCode{}, apperr.Wrapf(apperr.ErrInvalidTransition, "%s -> %s", cur.Status, next)
	}

	ok, err := iss.repo.UpdateCodeStatus(ctx, id, cur.Status, next, iss.now().UTC())
	if errors.Is(err, store.ErrDuplicate) {
		// the digits were re-issued while this code was inactive
		return model.AccessCode{}, apperr.ErrCodeInUse
	}
	if err != nil {
		return model.AccessCode{}, fmt.Errorf("update code status: %w", err)
	}
	if !ok {
		return model.AccessCode{}, apperr.Wrapf(apperr.ErrInvalidTransition, "code %s changed concurrently", id)
	}

	updated, err := iss.repo.GetAccessCode(ctx, id)
	if err != nil {
		return model.AccessCode{}, fmt.Errorf("reload code: %w", err)
	}
	slog.Info("access code status changed", "id", id, "from", cur.Status, "to", next)
	return updated, nil
}

// SweepExpired moves every active code whose window closed before now to expired.
// It is idempotent and safe to run alongside issuance and verification.
func (iss *Issuer) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := iss.repo.ExpireCodes(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire codes: %w", err)
	}
	if n > 0 {
		slog.Info("expired access codes", "count", n)
	}
	return int(n), nil
}

// List returns the code history of a scope.
func (iss *Issuer) List(ctx context.Context, scope model.Scope) ([]model.AccessCode, error) {
	if !scope.Kind.Valid() || scope.TargetID == "" {
		return nil, apperr.Validation("InvalidInput", apperr.FieldError{Field: "scope", Error: "unknown scope"})
	}
	return iss.repo.ListAccessCodes(ctx, scope)
}
