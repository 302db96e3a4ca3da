package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/identity"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/store"
	"github.com/pavelanni/tutorgate/internal/validate"
)

const maxImportBytes = 10 << 20

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,max=64"`
	DisplayName string         `json:"display_name" validate:"max=200"`
	Password    string         `json:"password" validate:"required,min=8"`
	Role        model.UserRole `json:"role" validate:"required,oneof=tutor admin"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validate.Struct(req, "InvalidInput"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.store.CreateUser(r.Context(), model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         req.Role,
		Active:       true,
	})
	if errors.Is(err, store.ErrDuplicate) {
		h.writeStatus(w, r, http.StatusConflict, "UsernameTaken")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	if p := model.PrincipalFromContext(r.Context()); p.ID == id {
		h.writeStatus(w, r, http.StatusConflict, "InvalidTransition")
		return
	}
	if err := h.store.ToggleUserActive(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil {
		h.writeStatus(w, r, http.StatusNotFound, "UserNotFound")
		return
	}
	slog.Info("toggled user", "id", id, "active", user.Active)
	writeJSON(w, http.StatusOK, user)
}

// handleImportExam creates an exam from an uploaded JSON document. The ?name= query
// parameter identifies the file; re-uploading identical content under the same name is
// rejected.
func (h *Handler) handleImportExam(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.ErrInvalidInput, err))
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	name := r.URL.Query().Get("name")
	if name == "" {
		name = hash
	}

	stored, err := h.store.GetImportedFileHash(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if stored == hash {
		h.writeStatus(w, r, http.StatusConflict, "ImportDuplicate")
		return
	}

	var req model.NewExam
	if err := json.Unmarshal(data, &req); err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.ErrInvalidInput, err))
		return
	}
	p := model.PrincipalFromContext(r.Context())
	e, err := h.catalog.Create(r.Context(), req, p.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.SetImportedFileHash(r.Context(), name, hash); err != nil {
		slog.Error("failed to record import", "name", name, "error", err)
	}
	slog.Info("imported exam", "name", name, "exam", e.ID, "questions", len(e.Questions))
	writeJSON(w, http.StatusCreated, e)
}

type statusResponse struct {
	Users         int        `json:"users"`
	LastSweep     *time.Time `json:"last_sweep,omitempty"`
	AssistEnabled bool       `json:"assist_enabled"`
	SweepSchedule string     `json:"sweep_schedule,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.UserCount(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := statusResponse{
		Users:         count,
		AssistEnabled: h.config.AssistEnabled,
		SweepSchedule: h.config.SweepSchedule,
	}
	last, err := h.store.LastSweep(r.Context())
	if err != nil {
		slog.Warn("failed to read last sweep", "error", err)
	} else if !last.IsZero() {
		resp.LastSweep = &last
	}
	writeJSON(w, http.StatusOK, resp)
}
