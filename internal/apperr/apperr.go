// Package apperr defines the error taxonomy shared by the access-code and exam services.
//
// Every error returned across a service boundary carries a Kind. Handlers map the Kind to an HTTP
// status and the Reason to a localized message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindInternal      Kind = "internal"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindExpired       Kind = "expired"
	KindInvalidState  Kind = "invalid_state"
	KindAuthorization Kind = "authorization"
	// KindExhausted is the only kind a caller may retry as-is.
	KindExhausted Kind = "exhausted"
)

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// Error is a classified error. Reason is a stable message ID used for translation.
type Error struct {
	Kind   Kind
	Reason string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two classified errors by kind and reason so that sentinels work with errors.Is
// even after being re-wrapped with extra detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

func newErr(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

var (
	ErrInvalidInput            = newErr(KindValidation, "InvalidInput")
	ErrInvalidIdentifier       = newErr(KindValidation, "InvalidIdentifier")
	ErrInvalidCodeLength       = newErr(KindValidation, "InvalidCodeLength")
	ErrInvalidQuestion         = newErr(KindValidation, "InvalidQuestion")
	ErrTotalPointsMismatch     = newErr(KindValidation, "TotalPointsMismatch")
	ErrCodeNotFound            = newErr(KindNotFound, "CodeNotFound")
	ErrExamNotFound            = newErr(KindNotFound, "ExamNotFound")
	ErrAttemptNotFound         = newErr(KindNotFound, "AttemptNotFound")
	ErrStudentNotFound         = newErr(KindNotFound, "StudentNotFound")
	ErrCodeExpired             = newErr(KindExpired, "CodeExpired")
	ErrInvalidTransition       = newErr(KindInvalidState, "InvalidTransition")
	ErrNotInWindow             = newErr(KindInvalidState, "NotInWindow")
	ErrExamNotActive           = newErr(KindInvalidState, "ExamNotActive")
	ErrExamLocked              = newErr(KindInvalidState, "ExamLocked")
	ErrNoQuestions             = newErr(KindInvalidState, "NoQuestions")
	ErrNotGradable             = newErr(KindInvalidState, "NotGradable")
	ErrCodeInUse               = newErr(KindInvalidState, "CodeInUse")
	ErrNotEnrolled             = newErr(KindAuthorization, "NotEnrolled")
	ErrNotAssigned             = newErr(KindAuthorization, "NotAssigned")
	ErrNotAuthorized           = newErr(KindAuthorization, "NotAuthorized")
	ErrInvalidCredentials      = newErr(KindAuthorization, "InvalidCredentials")
	ErrCodeGenerationExhausted = newErr(KindExhausted, "CodeGenerationExhausted")
)

// Wrap returns a copy of the sentinel carrying err as its cause.
func Wrap(sentinel *Error, err error) error {
	return &Error{Kind: sentinel.Kind, Reason: sentinel.Reason, Fields: sentinel.Fields, Err: err}
}

// Wrapf is Wrap with a formatted detail message.
func Wrapf(sentinel *Error, format string, args ...any) error {
	return Wrap(sentinel, fmt.Errorf(format, args...))
}

// Validation builds a validation error with per-field detail.
func Validation(reason string, fields ...FieldError) error {
	return &Error{Kind: KindValidation, Reason: reason, Fields: fields}
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf reports the message ID of err, or "InternalError".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "InternalError"
}

// FieldsOf returns per-field validation detail, if any.
func FieldsOf(err error) []FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Retryable reports whether the caller may repeat the operation unchanged.
func Retryable(err error) bool {
	return KindOf(err) == KindExhausted
}
