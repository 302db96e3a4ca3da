// Package handler exposes the access-code and exam services as a JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tutorgate/internal/access"
	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/attempt"
	"github.com/pavelanni/tutorgate/internal/exam"
	appI18n "github.com/pavelanni/tutorgate/internal/i18n"
	"github.com/pavelanni/tutorgate/internal/identity"
	"github.com/pavelanni/tutorgate/internal/llm"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	issuer   *access.Issuer
	verifier *access.Verifier
	catalog  *exam.Catalog
	attempts *attempt.Service
	auth     *identity.Authenticator
	llm      *llm.Client
	config   model.ServiceConfig
}

// Services bundles the domain services the handler delegates to.
type Services struct {
	Issuer   *access.Issuer
	Verifier *access.Verifier
	Catalog  *exam.Catalog
	Attempts *attempt.Service
}

// NewServices wires the domain services to the store.
func NewServices(s *store.Store) Services {
	return Services{
		Issuer:   access.NewIssuer(s),
		Verifier: access.NewVerifier(s, s, s),
		Catalog:  exam.NewCatalog(s),
		Attempts: attempt.NewService(s, s, attempt.WithRoster(s)),
	}
}

// New creates a new Handler. l may be nil, which disables scoring suggestions.
func New(s *store.Store, svc Services, l *llm.Client, cfg model.ServiceConfig) *Handler {
	if cfg.CodeLength == 0 {
		cfg.CodeLength = access.DefaultCodeLength
	}
	if cfg.ClassWindow == 0 {
		cfg.ClassWindow = access.DefaultClassWindow
	}
	if cfg.ExamWindow == 0 {
		cfg.ExamWindow = cfg.ClassWindow
	}
	cfg.AssistEnabled = l != nil
	return &Handler{
		store:    s,
		issuer:   svc.Issuer,
		verifier: svc.Verifier,
		catalog:  svc.Catalog,
		attempts: svc.Attempts,
		auth:     identity.NewAuthenticator(s),
		llm:      l,
		config:   cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleStudentLogin)
	r.Post("/staff/login", h.handleStaffLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(h.csrfMiddleware)

		r.Get("/me", h.handleMe)
		r.Post("/codes/verify", h.handleVerifyCode)
		r.Get("/exams/by-code/{joinCode}", h.handleResolveExam)
		r.Get("/exams/{examID}", h.handleGetExam)
		r.Post("/exams/{examID}/attempts", h.handleStartAttempt)
		r.Get("/attempts/{attemptID}", h.handleGetAttempt)
		r.Post("/attempts/{attemptID}/submit", h.handleSubmitAttempt)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTutor, model.UserRoleAdmin))

			r.Post("/codes", h.handleGenerateCode)
			r.Get("/codes", h.handleListCodes)
			r.Post("/codes/{codeID}/status", h.handleSetCodeStatus)

			r.Post("/exams", h.handleCreateExam)
			r.Get("/courses/{courseID}/exams", h.handleListExams)
			r.Post("/exams/{examID}/questions", h.handleAddQuestion)
			r.Post("/exams/{examID}/publish", h.handlePublish)
			r.Post("/exams/{examID}/activate", h.handleExamTransition(h.catalog.Activate))
			r.Post("/exams/{examID}/complete", h.handleExamTransition(h.catalog.Complete))
			r.Post("/exams/{examID}/archive", h.handleExamTransition(h.catalog.Archive))
			r.Get("/exams/{examID}/attempts", h.handleListAttempts)
			r.Get("/exams/{examID}/stats", h.handleStats)
			r.Get("/exams/{examID}/export", h.handleExport)

			r.Post("/attempts/{attemptID}/grade", h.handleGrade)
			r.Post("/attempts/{attemptID}/suggest", h.handleSuggest)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))

			r.Get("/admin/users", h.handleListUsers)
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/users/{userID}/toggle-active", h.handleToggleUserActive)
			r.Post("/admin/exams/import", h.handleImportExam)
			r.Get("/admin/status", h.handleStatus)
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// cookiePath scopes cookies to the base path.
func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return strings.TrimRight(h.config.BasePath, "/") + "/"
	}
	return "/"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("InvalidInput", apperr.FieldError{Field: "body", Error: "request body is empty"})
		}
		return apperr.Wrap(apperr.ErrInvalidInput, err)
	}
	return nil
}

type errorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindExhausted:
		return http.StatusServiceUnavailable
	case apperr.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// writeError renders err with a localized message. Unclassified errors are logged and
// reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if kind == apperr.KindInternal {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	if apperr.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	reason := apperr.ReasonOf(err)
	writeJSON(w, status, errorBody{
		Error:   reason,
		Message: appI18n.T(r.Context(), reason),
		Fields:  apperr.FieldsOf(err),
	})
}

func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, status int, reason string) {
	writeJSON(w, status, errorBody{Error: reason, Message: appI18n.T(r.Context(), reason)})
}
