// Package identity parses student login identifiers and checks their credentials.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/model"
)

// LoginID is a parsed identifier of the form schoolcode-firstname.lastname.
type LoginID struct {
	SchoolCode string
	FirstName  string
	LastName   string
}

func (id LoginID) String() string {
	return id.SchoolCode + "-" + id.FirstName + "." + id.LastName
}

// Parse splits a login identifier. The school code ends at the first dash and the
// names are separated by the first dot after it, so first names may contain dashes.
func Parse(raw string) (LoginID, error) {
	s := strings.TrimSpace(raw)
	school, names, ok := strings.Cut(s, "-")
	if !ok {
		return LoginID{}, apperr.Wrapf(apperr.ErrInvalidIdentifier, "missing school code separator")
	}
	first, last, ok := strings.Cut(names, ".")
	if !ok {
		return LoginID{}, apperr.Wrapf(apperr.ErrInvalidIdentifier, "missing name separator")
	}
	id := LoginID{SchoolCode: school, FirstName: first, LastName: last}
	for _, part := range []string{school, first, last} {
		if part == "" || strings.IndexFunc(part, unicode.IsSpace) >= 0 {
			return LoginID{}, apperr.Wrapf(apperr.ErrInvalidIdentifier, "malformed part %q", part)
		}
	}
	if strings.Contains(last, ".") {
		return LoginID{}, apperr.Wrapf(apperr.ErrInvalidIdentifier, "too many name separators")
	}
	return id, nil
}

// StudentLookup finds students by their parsed identifier. It returns nil, nil when no
// student matches.
type StudentLookup interface {
	GetStudentByLogin(ctx context.Context, schoolCode, firstName, lastName string) (*model.Student, error)
}

// Authenticator is the single place student credentials are compared.
type Authenticator struct {
	students StudentLookup
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(students StudentLookup) *Authenticator {
	return &Authenticator{students: students}
}

// Authenticate parses raw, loads the student and compares password against the stored
// bcrypt hash. Unknown students and wrong passwords both yield ErrInvalidCredentials.
func (a *Authenticator) Authenticate(ctx context.Context, raw, password string) (*model.Student, error) {
	id, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	st, err := a.students.GetStudentByLogin(ctx, id.SchoolCode, id.FirstName, id.LastName)
	if err != nil {
		return nil, fmt.Errorf("lookup student: %w", err)
	}
	if st == nil {
		slog.Info("student login failed", "identifier", id.String(), "reason", "unknown")
		return nil, apperr.ErrInvalidCredentials
	}
	if err := CheckPassword(st.PasswordHash, password); err != nil {
		if errors.Is(err, apperr.ErrInvalidCredentials) {
			slog.Info("student login failed", "identifier", id.String(), "reason", "password")
		}
		return nil, err
	}
	return st, nil
}

// CheckPassword compares password against a stored bcrypt hash. An empty hash never
// matches. Mismatches yield ErrInvalidCredentials.
func CheckPassword(hash, password string) error {
	if hash == "" {
		return apperr.ErrInvalidCredentials
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return apperr.ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}

// HashPassword returns the bcrypt hash stored for a credential.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
