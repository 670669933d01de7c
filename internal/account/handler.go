package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/gate"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

// Handler exposes HTTP endpoints for account operations.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRequest request body for the register endpoint.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, "invalid payload", nil)
		return
	}
	res, err := h.svc.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.logger.Debugw("register failed", "err", err)
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, res)
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, "invalid payload", nil)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	utilities.WriteJSON(w, http.StatusOK, acc.Profile())
}

// ChangePasswordRequest body for PUT /auth/password.
type ChangePasswordRequest struct {
	Current string `json:"current_password"`
	Next    string `json:"new_password"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, "invalid payload", nil)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), acc.ID, req.Current, req.Next); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			// the session is valid; a 401 here would read as "sign in again"
			utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, "current password is incorrect", nil)
			return
		}
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	out, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Promote)
}

func (h *Handler) Demote(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Demote)
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Activate)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Deactivate)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (*entity.Account, error)) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	updated, err := fn(r.Context(), acc.ID, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, updated.Profile())
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	// map common errors to status codes
	switch {
	case errors.Is(err, ErrInvalidInput):
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, err.Error(), nil)
	case errors.Is(err, ErrBadCredentials):
		utilities.WriteError(w, http.StatusUnauthorized, utilities.CodeUnauthenticated, "invalid credentials", nil)
	case errors.Is(err, ErrDisabled):
		utilities.WriteError(w, http.StatusForbidden, utilities.CodeForbidden, "account disabled", nil)
	case errors.Is(err, ErrSelfModification):
		utilities.WriteError(w, http.StatusForbidden, utilities.CodeForbidden, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		utilities.WriteError(w, http.StatusNotFound, utilities.CodeNotFound, "account not found", nil)
	case errors.Is(err, ErrEmailTaken):
		utilities.WriteError(w, http.StatusConflict, utilities.CodeConflict, "email already registered", nil)
	default:
		h.logger.Errorw("account request failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, utilities.CodeInternal, "internal error", nil)
	}
}
