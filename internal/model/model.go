package model

import (
	"context"
	"time"
)

// UserRole represents a staff member's access level.
type UserRole string

const (
	// UserRoleTutor issues codes, authors exams and grades attempts.
	UserRoleTutor UserRole = "tutor"
	// UserRoleAdmin can do everything a tutor can plus manage users.
	UserRoleAdmin UserRole = "admin"
	// UserRoleStudent is attached to sessions opened through the student login.
	UserRoleStudent UserRole = "student"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleTutor, UserRoleAdmin, UserRoleStudent:
		return true
	}
	return false
}

// User represents a staff account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Student is the enrollment collaborator's view of a learner.
type Student struct {
	ID           string `json:"id"`
	SchoolID     string `json:"school_id"`
	ClassID      string `json:"class_id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PasswordHash string `json:"-"`
}

// Principal is whoever is behind an authenticated request.
type Principal struct {
	ID          string
	DisplayName string
	Role        UserRole
}

// IsStaff reports whether the principal may manage codes and exams.
func (p Principal) IsStaff() bool {
	return p.Role == UserRoleTutor || p.Role == UserRoleAdmin
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	SubjectID string
	Role      UserRole
	CreatedAt time.Time
	ExpiresAt time.Time
}

type principalCtxKey struct{}

// ContextWithPrincipal stores the authenticated principal in the request context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext retrieves the authenticated principal from context, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*Principal)
	return p
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

// ServiceConfig holds runtime parameters set via CLI flags.
type ServiceConfig struct {
	CodeLength    int           // digits per access code
	ClassWindow   time.Duration // validity of class-session codes
	ExamWindow    time.Duration // validity of exam codes
	BasePath      string        // URL prefix for sub-path deployments
	SecureCookies bool          // set the Secure flag on session cookies
	PromptVariant string        // essay suggestion prompt variant (strict, standard, lenient)
	SweepSchedule string        // cron spec for the expiry sweeper, empty disables it
	AssistEnabled bool          // essay scoring suggestions are available
}
