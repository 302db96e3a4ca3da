package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pavelanni/tutorgate/internal/model"
)

const accessCodeColumns = `id, code, scope_kind, target_id, status, valid_from, valid_until,
	generated_by, generated_at, activated_at, deactivated_at`

func scanAccessCode(row scanner) (model.AccessCode, error) {
	var (
		c                     model.AccessCode
		validFrom, validUntil int64
		generatedAt           int64
		activatedAt, deactAt  sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Code, &c.Scope.Kind, &c.Scope.TargetID, &c.Status, &validFrom, &validUntil,
		&c.GeneratedBy, &generatedAt, &activatedAt, &deactAt)
	if err != nil {
		return c, err
	}
	c.ValidFrom = fromMillis(validFrom)
	c.ValidUntil = fromMillis(validUntil)
	c.GeneratedAt = fromMillis(generatedAt)
	c.ActivatedAt = timePtr(activatedAt)
	c.DeactivatedAt = timePtr(deactAt)
	return c, nil
}

// InsertAccessCode stores a new code. It returns ErrDuplicate when another active
// code already uses the same digits.
func (s *Store) InsertAccessCode(ctx context.Context, c model.AccessCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_codes (`+accessCodeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Code, c.Scope.Kind, c.Scope.TargetID, c.Status, toMillis(c.ValidFrom), toMillis(c.ValidUntil),
		c.GeneratedBy, toMillis(c.GeneratedAt), nullMillis(c.ActivatedAt), nullMillis(c.DeactivatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// ActiveCodeExists reports whether any active code uses the given digits.
func (s *Store) ActiveCodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_codes WHERE code = ? AND status = 'active'`, code,
	).Scan(&n)
	return n > 0, err
}

// GetAccessCode returns a code by ID.
func (s *Store) GetAccessCode(ctx context.Context, id string) (model.AccessCode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accessCodeColumns+` FROM access_codes WHERE id = ?`, id)
	return scanAccessCode(row)
}

// FindUsableCode returns the active code with the given digits and scope whose window contains now.
// It returns sql.ErrNoRows when there is none, whatever the reason.
func (s *Store) FindUsableCode(ctx context.Context, code string, scope model.Scope, now time.Time) (model.AccessCode, error) {
	ms := toMillis(now)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accessCodeColumns+` FROM access_codes
		 WHERE code = ? AND scope_kind = ? AND target_id = ? AND status = 'active'
		   AND valid_from <= ? AND valid_until > ?`,
		code, scope.Kind, scope.TargetID, ms, ms,
	)
	return scanAccessCode(row)
}

// UpdateCodeStatus moves a code from one status to another. It reports false when the
// code was no longer in the expected status. Activation stamps activated_at and clears
// deactivated_at; deactivation stamps deactivated_at.
func (s *Store) UpdateCodeStatus(ctx context.Context, id string, from, to model.CodeStatus, now time.Time) (bool, error) {
	query := `UPDATE access_codes SET status = ? WHERE id = ? AND status = ?`
	args := []any{to, id, from}
	switch to {
	case model.CodeActive:
		query = `UPDATE access_codes SET status = ?, activated_at = ?, deactivated_at = NULL WHERE id = ? AND status = ?`
		args = []any{to, toMillis(now), id, from}
	case model.CodeInactive:
		query = `UPDATE access_codes SET status = ?, deactivated_at = ? WHERE id = ? AND status = ?`
		args = []any{to, toMillis(now), id, from}
	case model.CodeExpired:
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return false, ErrDuplicate
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ExpireCodes marks every active code whose window closed before now as expired.
func (s *Store) ExpireCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE access_codes SET status = 'expired' WHERE status = 'active' AND valid_until < ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListAccessCodes returns the code history for a scope, newest first.
func (s *Store) ListAccessCodes(ctx context.Context, scope model.Scope) ([]model.AccessCode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accessCodeColumns+` FROM access_codes
		 WHERE scope_kind = ? AND target_id = ? ORDER BY generated_at DESC, id`,
		scope.Kind, scope.TargetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []model.AccessCode
	for rows.Next() {
		c, err := scanAccessCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}
