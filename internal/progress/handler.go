package progress

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/gate"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

// Handler exposes the caller's own ledger. Account ids never come from the
// request; they are read from the account the gate attached.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	recs, err := h.svc.List(r.Context(), acc.ID, entity.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, recs)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	sum, err := h.svc.Summary(r.Context(), acc.ID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.MarkCompleted(r.Context(), acc.ID, r.PathValue("problemID"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, rec)
}

// SetStatusRequest is the body of PUT /progress/{problemID}.
type SetStatusRequest struct {
	Status entity.Status `json:"status"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid status payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, "invalid payload", nil)
		return
	}
	rec, err := h.svc.UpdateStatus(r.Context(), acc.ID, r.PathValue("problemID"), req.Status)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, rec)
}

// ResetResponse reports whether a record was reset. Record is nil when there
// was nothing to reset.
type ResetResponse struct {
	Reset  bool           `json:"reset"`
	Record *entity.Record `json:"record"`
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	rec, reset, err := h.svc.Reset(r.Context(), acc.ID, r.PathValue("problemID"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, ResetResponse{Reset: reset, Record: rec})
}

// BatchRequest is the body of POST /progress/batch.
type BatchRequest struct {
	Items []Item `json:"items"`
}

func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	acc, ok := gate.Caller(w, r)
	if !ok {
		return
	}
	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.logger.Debugw("invalid batch payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, "invalid payload", nil)
		return
	}
	recs, err := h.svc.BatchUpdate(r.Context(), acc.ID, req.Items)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, recs)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var invalid *InvalidProblemsError
	switch {
	case errors.As(err, &invalid):
		utilities.WriteError(w, http.StatusPreconditionFailed, utilities.CodePreconditionFailed,
			"some problems do not exist or are retired", map[string]any{"problem_ids": invalid.ProblemIDs})
	case errors.Is(err, ErrInvalidInput):
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, err.Error(), nil)
	case errors.Is(err, ErrProblemUnavailable):
		utilities.WriteError(w, http.StatusNotFound, utilities.CodeNotFound, "problem not found", nil)
	case errors.Is(err, ErrConflict):
		utilities.WriteError(w, http.StatusConflict, utilities.CodeConflict, "progress record already exists", nil)
	case errors.Is(err, ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		utilities.WriteError(w, http.StatusServiceUnavailable, utilities.CodeUnavailable, "progress store unavailable, please retry", nil)
	default:
		h.logger.Errorw("progress request failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, utilities.CodeInternal, "internal error", nil)
	}
}
