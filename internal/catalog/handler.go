package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	accountentity "github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/gate"
	progressentity "github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

// ProgressLister reads a caller's ledger so listings can show their status.
type ProgressLister interface {
	List(ctx context.Context, accountID string, status progressentity.Status) ([]*progressentity.Record, error)
}

// Handler contains dependencies for handling problem endpoints.
type Handler struct {
	svc      *Service
	progress ProgressLister
	logger   *zap.SugaredLogger
}

func NewHandler(svc *Service, progress ProgressLister, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, progress: progress, logger: logger}
}

// ProblemView is a problem as seen by one caller. Status is present only
// for signed-in callers.
type ProblemView struct {
	*entity.Problem
	Status progressentity.Status `json:"status,omitempty"`
}

// List serves anonymous and signed-in callers alike. Elevated callers may
// pass all=1 to include retired problems.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	acc, known := gate.AccountFrom(r.Context())
	activeOnly := !(known && acc.Role == accountentity.RoleElevated && q.Get("all") == "1")

	problems, err := h.svc.List(r.Context(), activeOnly, limit, offset)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	statuses := map[string]progressentity.Status{}
	if known && h.progress != nil {
		recs, err := h.progress.List(r.Context(), acc.ID, "")
		if err != nil {
			// listing still works without personal status
			h.logger.Warnw("progress lookup for listing failed", "account_id", acc.ID, "err", err)
		}
		for _, rec := range recs {
			statuses[rec.ProblemID] = rec.Status
		}
	}
	out := make([]ProblemView, 0, len(problems))
	for _, p := range problems {
		v := ProblemView{Problem: p}
		if known {
			v.Status = progressentity.StatusNotStarted
			if st, ok := statuses[p.ID]; ok {
				v.Status = st
			}
		}
		out = append(out, v)
	}
	utilities.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	acc, known := gate.AccountFrom(r.Context())
	if !p.Active && !(known && acc.Role == accountentity.RoleElevated) {
		h.writeErr(w, ErrNotFound)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.Debugw("invalid problem payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, "invalid payload", nil)
		return
	}
	p, err := h.svc.Create(r.Context(), acc.ID, in)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.Debugw("invalid problem payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, "invalid payload", nil)
		return
	}
	p, err := h.svc.Update(r.Context(), acc.ID, r.PathValue("id"), in)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), acc.ID, r.PathValue("id")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		utilities.WriteError(w, http.StatusNotFound, utilities.CodeNotFound, "problem not found", nil)
	case errors.Is(err, ErrVersionConflict):
		utilities.WriteError(w, http.StatusConflict, utilities.CodeConflict, "problem was modified, reload and retry", nil)
	default:
		h.logger.Errorw("catalog request failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, utilities.CodeInternal, "internal error", nil)
	}
}
