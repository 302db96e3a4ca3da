package model

import "time"

// ScopeKind is the kind of target an access code gates.
type ScopeKind string

const (
	ScopeClass ScopeKind = "class"
	ScopeExam  ScopeKind = "exam"
)

// Valid reports whether k is a known scope kind.
func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeClass, ScopeExam:
		return true
	}
	return false
}

// Scope identifies the class or exam a code applies to.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	TargetID string    `json:"target_id"`
}

// CodeStatus is the lifecycle state of an access code.
type CodeStatus string

const (
	CodeActive   CodeStatus = "active"
	CodeInactive CodeStatus = "inactive"
	CodeExpired  CodeStatus = "expired"
)

// Valid reports whether s is a known code status.
func (s CodeStatus) Valid() bool {
	switch s {
	case CodeActive, CodeInactive, CodeExpired:
		return true
	}
	return false
}

// CanTransition reports whether a code may move from s to next.
// Expired is terminal.
func (s CodeStatus) CanTransition(next CodeStatus) bool {
	switch s {
	case CodeActive:
		return next == CodeInactive || next == CodeExpired
	case CodeInactive:
		return next == CodeActive || next == CodeExpired
	case CodeExpired:
		return false
	}
	return false
}

// AccessCode is a short-lived numeric credential. Rows are never deleted.
type AccessCode struct {
	ID            string     `json:"id"`
	Code          string     `json:"code"`
	Scope         Scope      `json:"scope"`
	Status        CodeStatus `json:"status"`
	ValidFrom     time.Time  `json:"valid_from"`
	ValidUntil    time.Time  `json:"valid_until"`
	GeneratedBy   string     `json:"generated_by"`
	GeneratedAt   time.Time  `json:"generated_at"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// UsableAt reports whether the code admits entry at t: active and inside [ValidFrom, ValidUntil).
func (c AccessCode) UsableAt(t time.Time) bool {
	return c.Status == CodeActive && !t.Before(c.ValidFrom) && t.Before(c.ValidUntil)
}

// VerifyRequest is the input to access-code verification.
type VerifyRequest struct {
	Code      string `json:"code" validate:"required,numeric"`
	Scope     Scope  `json:"scope"`
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id,omitempty"`
}

// VerificationResult holds the scope identifiers resolved by a successful verification.
type VerificationResult struct {
	SchoolID string `json:"school_id,omitempty"`
	ClassID  string `json:"class_id,omitempty"`
	ExamID   string `json:"exam_id,omitempty"`
	CodeID   string `json:"code_id"`
}
