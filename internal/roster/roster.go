// Package roster seeds the enrollment projection (schools, classes, students and
// course assignments) from a JSON document.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/identity"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/store"
	"github.com/pavelanni/tutorgate/internal/validate"
)

// File is the seed document layout.
type File struct {
	Schools     []School     `json:"schools" validate:"dive"`
	Classes     []Class      `json:"classes" validate:"dive"`
	Students    []Student    `json:"students" validate:"dive"`
	Assignments []Assignment `json:"assignments" validate:"dive"`
}

type School struct {
	ID   string `json:"id" validate:"required"`
	Code string `json:"code" validate:"required,alphanum"`
	Name string `json:"name" validate:"required"`
}

type Class struct {
	ID       string `json:"id" validate:"required"`
	SchoolID string `json:"school_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
}

type Student struct {
	ID        string   `json:"id" validate:"required"`
	SchoolID  string   `json:"school_id" validate:"required"`
	ClassID   string   `json:"class_id" validate:"required"`
	FirstName string   `json:"first_name" validate:"required,excludesall=-."`
	LastName  string   `json:"last_name" validate:"required,excludesall=."`
	Password  string   `json:"password" validate:"required"`
	Classes   []string `json:"classes,omitempty"` // extra enrollments beyond the home class
}

type Assignment struct {
	CourseID string `json:"course_id" validate:"required"`
	ClassID  string `json:"class_id" validate:"required"`
}

// Writer is the store surface the importer needs.
type Writer interface {
	CreateSchool(ctx context.Context, id, code, name string) error
	CreateClass(ctx context.Context, id, schoolID, name string) error
	CreateStudent(ctx context.Context, st model.Student) error
	Enroll(ctx context.Context, studentID, classID string) error
	AssignCourse(ctx context.Context, courseID, classID string) error
}

// Summary counts imported rows. Schools, classes and students that already exist are
// counted as skipped.
type Summary struct {
	Schools     int
	Classes     int
	Students    int
	Assignments int
	Skipped     int
}

// Importer loads roster files.
type Importer struct {
	w    Writer
	hash func(string) (string, error)
}

// Option configures an Importer.
type Option func(*Importer)

// WithHasher replaces the password hash function.
func WithHasher(hash func(string) (string, error)) Option {
	return func(im *Importer) { im.hash = hash }
}

func NewImporter(w Writer, opts ...Option) *Importer {
	im := &Importer{w: w, hash: identity.HashPassword}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import parses data and writes its rows in dependency order. Re-importing the same
// file is a no-op.
func (im *Importer) Import(ctx context.Context, data []byte) (Summary, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return Summary{}, apperr.Wrap(apperr.ErrInvalidInput, err)
	}
	if err := validate.Struct(f, "InvalidInput"); err != nil {
		return Summary{}, err
	}

	var sum Summary
	created := func(err error, counter *int) error {
		if errors.Is(err, store.ErrDuplicate) {
			sum.Skipped++
			return nil
		}
		if err != nil {
			return err
		}
		*counter++
		return nil
	}

	for _, sc := range f.Schools {
		if err := created(im.w.CreateSchool(ctx, sc.ID, sc.Code, sc.Name), &sum.Schools); err != nil {
			return sum, fmt.Errorf("school %s: %w", sc.ID, err)
		}
	}
	for _, c := range f.Classes {
		if err := created(im.w.CreateClass(ctx, c.ID, c.SchoolID, c.Name), &sum.Classes); err != nil {
			return sum, fmt.Errorf("class %s: %w", c.ID, err)
		}
	}
	for _, st := range f.Students {
		hash, err := im.hash(st.Password)
		if err != nil {
			return sum, fmt.Errorf("hash password for %s: %w", st.ID, err)
		}
		err = im.w.CreateStudent(ctx, model.Student{
			ID:           st.ID,
			SchoolID:     st.SchoolID,
			ClassID:      st.ClassID,
			FirstName:    st.FirstName,
			LastName:     st.LastName,
			PasswordHash: hash,
		})
		if err := created(err, &sum.Students); err != nil {
			return sum, fmt.Errorf("student %s: %w", st.ID, err)
		}
		for _, classID := range st.Classes {
			if err := im.w.Enroll(ctx, st.ID, classID); err != nil {
				return sum, fmt.Errorf("enroll %s in %s: %w", st.ID, classID, err)
			}
		}
	}
	for _, a := range f.Assignments {
		if err := im.w.AssignCourse(ctx, a.CourseID, a.ClassID); err != nil {
			return sum, fmt.Errorf("assign %s to %s: %w", a.CourseID, a.ClassID, err)
		}
		sum.Assignments++
	}

	slog.Info("imported roster",
		"schools", sum.Schools, "classes", sum.Classes, "students", sum.Students,
		"assignments", sum.Assignments, "skipped", sum.Skipped)
	return sum, nil
}
