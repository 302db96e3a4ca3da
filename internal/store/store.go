package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicate is returned when an insert or update violates a uniqueness constraint.
// The partial unique indexes on active codes and per-student attempts are the
// authoritative race guards, so callers rely on seeing this error.
var ErrDuplicate = errors.New("store: duplicate key")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schools (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS classes (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (school_id) REFERENCES schools(id)
	);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		class_id TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (school_id) REFERENCES schools(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_students_login
		ON students(school_id, first_name COLLATE NOCASE, last_name COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS enrollments (
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		PRIMARY KEY (student_id, class_id)
	);

	CREATE TABLE IF NOT EXISTS course_assignments (
		course_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		PRIMARY KEY (course_id, class_id)
	);

	CREATE TABLE IF NOT EXISTS access_codes (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		scope_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		status TEXT NOT NULL,
		valid_from INTEGER NOT NULL,
		valid_until INTEGER NOT NULL,
		generated_by TEXT NOT NULL,
		generated_at INTEGER NOT NULL,
		activated_at INTEGER,
		deactivated_at INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_access_codes_active
		ON access_codes(code) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_access_codes_scope
		ON access_codes(scope_kind, target_id);

	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		title TEXT NOT NULL,
		join_code TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		duration INTEGER NOT NULL,
		scheduled_at INTEGER,
		start_date INTEGER,
		end_date INTEGER,
		declared_total_points INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		exam_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL,
		rubric TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (exam_id, idx),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		submitted_at INTEGER,
		answers TEXT NOT NULL DEFAULT '{}',
		results TEXT NOT NULL DEFAULT '[]',
		total_score INTEGER NOT NULL DEFAULT 0,
		percentage INTEGER NOT NULL DEFAULT 0,
		grade TEXT NOT NULL DEFAULT '',
		time_spent INTEGER NOT NULL DEFAULT 0,
		graded_by TEXT NOT NULL DEFAULT '',
		graded_at INTEGER,
		UNIQUE (exam_id, student_id),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
