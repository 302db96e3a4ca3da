package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/tutorgate/internal/model"
)

const examColumns = `id, course_id, title, join_code, status, duration, scheduled_at, start_date, end_date,
	declared_total_points, created_by, created_at`

func scanExam(row scanner) (model.Exam, error) {
	var (
		e                    model.Exam
		scheduled, from, end sql.NullInt64
		createdAt            int64
	)
	err := row.Scan(&e.ID, &e.CourseID, &e.Title, &e.JoinCode, &e.Status, &e.Duration, &scheduled, &from, &end,
		&e.DeclaredTotalPoints, &e.CreatedBy, &createdAt)
	if err != nil {
		return e, err
	}
	e.ScheduledAt = timePtr(scheduled)
	e.StartDate = timePtr(from)
	e.EndDate = timePtr(end)
	e.CreatedAt = fromMillis(createdAt)
	return e, nil
}

// CreateExam stores an exam together with its initial questions. It returns ErrDuplicate
// when the join code is taken.
func (s *Store) CreateExam(ctx context.Context, e model.Exam) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exams (`+examColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CourseID, e.Title, e.JoinCode, e.Status, e.Duration,
		nullMillis(e.ScheduledAt), nullMillis(e.StartDate), nullMillis(e.EndDate),
		e.DeclaredTotalPoints, e.CreatedBy, toMillis(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}

	for i, q := range e.Questions {
		opts, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (exam_id, idx, text, type, options, correct_answer, points, rubric)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, i, q.Text, q.Type, string(opts), q.CorrectAnswer, q.Points, q.Rubric,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetExam returns an exam with its questions in order.
func (s *Store) GetExam(ctx context.Context, id string) (model.Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE id = ?`, id))
	if err != nil {
		return e, err
	}
	e.Questions, err = s.listQuestions(ctx, e.ID)
	return e, err
}

// GetExamByJoinCode resolves the human-shareable join code to an exam.
func (s *Store) GetExamByJoinCode(ctx context.Context, joinCode string) (model.Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE join_code = ?`, joinCode))
	if err != nil {
		return e, err
	}
	e.Questions, err = s.listQuestions(ctx, e.ID)
	return e, err
}

func (s *Store) listQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, text, type, options, correct_answer, points, rubric
		 FROM questions WHERE exam_id = ? ORDER BY idx`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var (
			q    model.Question
			opts string
		)
		if err := rows.Scan(&q.Index, &q.Text, &q.Type, &opts, &q.CorrectAnswer, &q.Points, &q.Rubric); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options for question %d: %w", q.Index, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// AppendQuestion adds a question at the end of an exam, but only while the exam is in one
// of the editable statuses. It reports the new index, or ok=false when the exam was not editable.
func (s *Store) AppendQuestion(ctx context.Context, examID string, q model.Question, editable []model.ExamStatus) (idx int, ok bool, err error) {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return 0, false, fmt.Errorf("encode options: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	var status model.ExamStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM exams WHERE id = ?`, examID).Scan(&status); err != nil {
		return 0, false, err
	}
	allowed := false
	for _, st := range editable {
		if st == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return 0, false, nil
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx) + 1, 0) FROM questions WHERE exam_id = ?`, examID,
	).Scan(&idx); err != nil {
		return 0, false, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO questions (exam_id, idx, text, type, options, correct_answer, points, rubric)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		examID, idx, q.Text, q.Type, string(opts), q.CorrectAnswer, q.Points, q.Rubric,
	)
	if err != nil {
		return 0, false, err
	}
	return idx, true, tx.Commit()
}

// UpdateExamStatus moves an exam from one status to another, optionally setting scheduled_at.
// It reports false when the exam was no longer in the expected status.
func (s *Store) UpdateExamStatus(ctx context.Context, id string, from, to model.ExamStatus, scheduledAt *time.Time) (bool, error) {
	query := `UPDATE exams SET status = ? WHERE id = ? AND status = ?`
	args := []any{to, id, from}
	if scheduledAt != nil {
		query = `UPDATE exams SET status = ?, scheduled_at = ? WHERE id = ? AND status = ?`
		args = []any{to, toMillis(*scheduledAt), id, from}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListExamsByCourse returns a course's exams without questions, newest first.
func (s *Store) ListExamsByCourse(ctx context.Context, courseID string) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+examColumns+` FROM exams WHERE course_id = ? ORDER BY created_at DESC`, courseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}
