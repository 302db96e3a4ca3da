package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/identity"
	"github.com/pavelanni/tutorgate/internal/model"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// csrfMiddleware enforces the double-submit check on state-changing requests: the
// X-CSRF-Token header must equal the csrf_token cookie issued at login.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing", "path", r.URL.Path)
			h.writeStatus(w, r, http.StatusForbidden, "Forbidden")
			return
		}
		token := r.Header.Get(csrfHeaderName)
		if token == "" || len(token) != len(cookie.Value) ||
			subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch", "path", r.URL.Path)
			h.writeStatus(w, r, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the session cookie to a principal.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			h.writeStatus(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		authSess, err := h.store.GetAuthSession(r.Context(), cookie.Value)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			h.writeStatus(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if authSess == nil {
			h.writeStatus(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		p, err := h.principalFor(r, authSess)
		if err != nil {
			slog.Error("failed to load principal", "subject", authSess.SubjectID, "error", err)
		}
		if p == nil {
			h.writeStatus(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := model.ContextWithPrincipal(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) principalFor(r *http.Request, sess *model.AuthSession) (*model.Principal, error) {
	if sess.Role == model.UserRoleStudent {
		st, err := h.store.GetStudent(r.Context(), sess.SubjectID)
		if err != nil || st == nil {
			return nil, err
		}
		return &model.Principal{ID: st.ID, DisplayName: st.FirstName + " " + st.LastName, Role: model.UserRoleStudent}, nil
	}
	user, err := h.store.GetUserByID(r.Context(), sess.SubjectID)
	if err != nil || user == nil || !user.Active {
		return nil, err
	}
	return &model.Principal{ID: user.ID, DisplayName: user.DisplayName, Role: user.Role}, nil
}

// requireRole returns middleware that checks the principal has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := model.PrincipalFromContext(r.Context())
			if p == nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
				return
			}
			for _, role := range allowed {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusForbidden, errorBody{Error: "Forbidden"})
		})
	}
}

type studentLoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type staffLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Role        model.UserRole `json:"role"`
	CSRFToken   string         `json:"csrf_token"`
}

func (h *Handler) handleStudentLogin(w http.ResponseWriter, r *http.Request) {
	var req studentLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.auth.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.startSession(w, r, &model.Principal{
		ID: st.ID, DisplayName: st.FirstName + " " + st.LastName, Role: model.UserRoleStudent,
	})
}

func (h *Handler) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	var req staffLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil || !user.Active || user.Role == model.UserRoleStudent {
		h.writeError(w, r, apperr.ErrInvalidCredentials)
		return
	}
	if err := identity.CheckPassword(user.PasswordHash, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.startSession(w, r, &model.Principal{ID: user.ID, DisplayName: user.DisplayName, Role: user.Role})
}

// startSession opens an auth session and sets the session and CSRF cookies.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, p *model.Principal) {
	token, err := h.store.CreateAuthSession(r.Context(), p.ID, p.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	csrf, err := generateCSRFToken()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    csrf,
		Path:     h.cookiePath(),
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	slog.Info("login", "subject", p.ID, "role", p.Role)
	writeJSON(w, http.StatusOK, loginResponse{ID: p.ID, DisplayName: p.DisplayName, Role: p.Role, CSRFToken: csrf})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.store.DeleteAuthSession(r.Context(), cookie.Value)
	}

	for _, name := range []string{sessionCookieName, csrfCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     h.cookiePath(),
			MaxAge:   -1,
			HttpOnly: name == sessionCookieName,
			Secure:   h.config.SecureCookies,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := model.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             p.ID,
		"display_name":   p.DisplayName,
		"role":           p.Role,
		"assist_enabled": h.config.AssistEnabled && p.IsStaff(),
	})
}
