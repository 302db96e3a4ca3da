package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/tutorgate/internal/model"
)

const attemptColumns = `id, exam_id, student_id, status, started_at, submitted_at, answers, results,
	total_score, percentage, grade, time_spent, graded_by, graded_at`

func scanAttempt(row scanner) (model.Attempt, error) {
	var (
		a                   model.Attempt
		startedAt           int64
		submitted, gradedAt sql.NullInt64
		answers, results    string
	)
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &startedAt, &submitted, &answers, &results,
		&a.TotalScore, &a.Percentage, &a.Grade, &a.TimeSpent, &a.GradedBy, &gradedAt)
	if err != nil {
		return a, err
	}
	a.StartedAt = fromMillis(startedAt)
	a.SubmittedAt = timePtr(submitted)
	a.GradedAt = timePtr(gradedAt)
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return a, fmt.Errorf("decode answers: %w", err)
	}
	if err := json.Unmarshal([]byte(results), &a.Results); err != nil {
		return a, fmt.Errorf("decode results: %w", err)
	}
	return a, nil
}

func encodeAttempt(a model.Attempt) (answers, results string, err error) {
	if a.Answers == nil {
		a.Answers = map[int]string{}
	}
	ab, err := json.Marshal(a.Answers)
	if err != nil {
		return "", "", fmt.Errorf("encode answers: %w", err)
	}
	if a.Results == nil {
		a.Results = []model.QuestionResult{}
	}
	rb, err := json.Marshal(a.Results)
	if err != nil {
		return "", "", fmt.Errorf("encode results: %w", err)
	}
	return string(ab), string(rb), nil
}

// CreateAttempt stores a new attempt. It returns ErrDuplicate when the student already
// has an attempt for the exam.
func (s *Store) CreateAttempt(ctx context.Context, a model.Attempt) error {
	answers, results, err := encodeAttempt(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ExamID, a.StudentID, a.Status, toMillis(a.StartedAt), nullMillis(a.SubmittedAt), answers, results,
		a.TotalScore, a.Percentage, a.Grade, a.TimeSpent, a.GradedBy, nullMillis(a.GradedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, id string) (model.Attempt, error) {
	return scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
}

// GetAttemptFor returns the student's attempt for an exam.
func (s *Store) GetAttemptFor(ctx context.Context, examID, studentID string) (model.Attempt, error) {
	return scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = ? AND student_id = ?`, examID, studentID,
	))
}

// FinishAttempt writes the submitted or graded state of an attempt, but only if the stored
// attempt is still in the from status. It reports false when another caller got there first.
func (s *Store) FinishAttempt(ctx context.Context, a model.Attempt, from model.AttemptStatus) (bool, error) {
	answers, results, err := encodeAttempt(a)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET status = ?, submitted_at = ?, answers = ?, results = ?, total_score = ?,
		   percentage = ?, grade = ?, time_spent = ?, graded_by = ?, graded_at = ?
		 WHERE id = ? AND status = ?`,
		a.Status, nullMillis(a.SubmittedAt), answers, results, a.TotalScore,
		a.Percentage, a.Grade, a.TimeSpent, a.GradedBy, nullMillis(a.GradedAt),
		a.ID, from,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListAttemptsForExam returns all attempts for an exam in start order.
func (s *Store) ListAttemptsForExam(ctx context.Context, examID string) ([]model.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = ? ORDER BY started_at, id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
