package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tutorgate/internal/access"
	"github.com/pavelanni/tutorgate/internal/apperr"
	"github.com/pavelanni/tutorgate/internal/model"
)

type generateCodeRequest struct {
	Scope  model.Scope `json:"scope"`
	Length int         `json:"length,omitempty"`
	// Window in minutes; zero selects the configured default for the scope kind.
	Window int `json:"window,omitempty"`
}

func (h *Handler) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	var req generateCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Window < 0 {
		h.writeError(w, r, apperr.Validation("InvalidInput", apperr.FieldError{Field: "window", Error: "must not be negative"}))
		return
	}
	if req.Length == 0 {
		req.Length = h.config.CodeLength
	}
	window := time.Duration(req.Window) * time.Minute
	if window == 0 {
		window = h.config.ClassWindow
		if req.Scope.Kind == model.ScopeExam {
			window = h.config.ExamWindow
		}
	}

	p := model.PrincipalFromContext(r.Context())
	code, err := h.issuer.Generate(r.Context(), access.GenerateRequest{
		Scope:       req.Scope,
		Length:      req.Length,
		Window:      window,
		GeneratedBy: p.ID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

func (h *Handler) handleListCodes(w http.ResponseWriter, r *http.Request) {
	scope := model.Scope{
		Kind:     model.ScopeKind(r.URL.Query().Get("scope_kind")),
		TargetID: r.URL.Query().Get("target_id"),
	}
	codes, err := h.issuer.List(r.Context(), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if codes == nil {
		codes = []model.AccessCode{}
	}
	writeJSON(w, http.StatusOK, codes)
}

type setStatusRequest struct {
	Status model.CodeStatus `json:"status"`
}

func (h *Handler) handleSetCodeStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	code, err := h.issuer.SetStatus(r.Context(), chi.URLParam(r, "codeID"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}

// handleVerifyCode admits the caller through a code. Students always verify as themselves;
// staff may verify on behalf of a student.
func (h *Handler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if p := model.PrincipalFromContext(r.Context()); !p.IsStaff() {
		req.StudentID = p.ID
	} else if err := h.checkStudent(r, req.StudentID); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.verifier.Verify(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
