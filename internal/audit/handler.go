package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

// Handler serves read-only audit queries. There is no write endpoint.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Recent(r.Context(), limitParam(r))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) ByActor(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ByActor(r.Context(), r.PathValue("id"), limitParam(r))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) ByEntity(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ByEntity(r.Context(), r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, out)
}

// Range expects RFC 3339 from and to query parameters.
func (h *Handler) Range(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err1 := time.Parse(time.RFC3339, q.Get("from"))
	to, err2 := time.Parse(time.RFC3339, q.Get("to"))
	if err1 != nil || err2 != nil {
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, "from and to must be RFC 3339 timestamps", nil)
		return
	}
	out, err := h.svc.Between(r.Context(), from, to, limitParam(r))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, out)
}

func limitParam(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidRange) {
		utilities.WriteError(w, http.StatusBadRequest, utilities.CodeValidation, err.Error(), nil)
		return
	}
	h.logger.Errorw("audit query failed", "err", err)
	utilities.WriteError(w, http.StatusInternalServerError, utilities.CodeInternal, "internal error", nil)
}
