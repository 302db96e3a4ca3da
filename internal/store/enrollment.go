package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/tutorgate/internal/model"
)

// The tables in this file are a read projection of the school, class and student
// management service. The core only reads them; seeding happens through the admin CLI.

// CreateSchool inserts a school.
func (s *Store) CreateSchool(ctx context.Context, id, code, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO schools (id, code, name) VALUES (?, ?, ?)`, id, code, name)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// CreateClass inserts a class belonging to a school.
func (s *Store) CreateClass(ctx context.Context, id, schoolID, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO classes (id, school_id, name) VALUES (?, ?, ?)`, id, schoolID, name)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// CreateStudent inserts a student and enrolls them in their home class.
func (s *Store) CreateStudent(ctx context.Context, st model.Student) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO students (id, school_id, class_id, first_name, last_name, password_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.SchoolID, st.ClassID, st.FirstName, st.LastName, st.PasswordHash,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if st.ClassID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO enrollments (student_id, class_id) VALUES (?, ?)`, st.ID, st.ClassID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Enroll records that a student belongs to a class.
func (s *Store) Enroll(ctx context.Context, studentID, classID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO enrollments (student_id, class_id) VALUES (?, ?)`, studentID, classID)
	return err
}

// AssignCourse records that a course is taught to a class.
func (s *Store) AssignCourse(ctx context.Context, courseID, classID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO course_assignments (course_id, class_id) VALUES (?, ?)`, courseID, classID)
	return err
}

// IsEnrolled reports whether the student belongs to the class.
func (s *Store) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE student_id = ? AND class_id = ?`, studentID, classID,
	).Scan(&n)
	return n > 0, err
}

// IsCourseAssigned reports whether the course is assigned to the class.
func (s *Store) IsCourseAssigned(ctx context.Context, courseID, classID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM course_assignments WHERE course_id = ? AND class_id = ?`, courseID, classID,
	).Scan(&n)
	return n > 0, err
}

// ClassesForCourse lists the classes a course is assigned to.
func (s *Store) ClassesForCourse(ctx context.Context, courseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT class_id FROM course_assignments WHERE course_id = ? ORDER BY class_id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SchoolForClass returns the school a class belongs to.
// It returns sql.ErrNoRows for unknown classes.
func (s *Store) SchoolForClass(ctx context.Context, classID string) (string, error) {
	var schoolID string
	err := s.db.QueryRowContext(ctx, `SELECT school_id FROM classes WHERE id = ?`, classID).Scan(&schoolID)
	return schoolID, err
}

// GetStudentByLogin finds a student by school code and name, ignoring name case.
// Returns nil and nil error if no such student exists.
func (s *Store) GetStudentByLogin(ctx context.Context, schoolCode, firstName, lastName string) (*model.Student, error) {
	var st model.Student
	err := s.db.QueryRowContext(ctx,
		`SELECT st.id, st.school_id, st.class_id, st.first_name, st.last_name, st.password_hash
		 FROM students st JOIN schools sc ON sc.id = st.school_id
		 WHERE sc.code = ? COLLATE NOCASE AND st.first_name = ? COLLATE NOCASE AND st.last_name = ? COLLATE NOCASE`,
		schoolCode, firstName, lastName,
	).Scan(&st.ID, &st.SchoolID, &st.ClassID, &st.FirstName, &st.LastName, &st.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStudent returns a student by ID, or nil if not found.
func (s *Store) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	var st model.Student
	err := s.db.QueryRowContext(ctx,
		`SELECT id, school_id, class_id, first_name, last_name, password_hash FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.SchoolID, &st.ClassID, &st.FirstName, &st.LastName, &st.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
