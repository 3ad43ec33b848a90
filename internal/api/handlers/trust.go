package handlers

import (
	"errors"
	"net/http"

	"github.com/Harshitk-cp/skytrust/internal/api/middleware"
	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/opinion"
	"github.com/Harshitk-cp/skytrust/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type TrustHandler struct {
	svc    *service.TrustService
	logger *zap.Logger
}

func NewTrustHandler(svc *service.TrustService, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{svc: svc, logger: logger}
}

type trustRequest struct {
	FromDID     string          `json:"fromDid"`
	ToDID       string          `json:"toDid"`
	Scope       string          `json:"scope"`
	Opinion     opinion.Opinion `json:"opinion"`
	EvidenceRef *string         `json:"evidenceRef,omitempty"`
}

func (h *TrustHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req trustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	edge, err := h.svc.Record(r.Context(), domain.TrustEdge{
		FromDID:     req.FromDID,
		ToDID:       req.ToDID,
		Scope:       req.Scope,
		Opinion:     req.Opinion,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		h.serviceError(w, r, err, "failed to record trust")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "edge": edge})
}

// Derive returns from's opinion of to, optionally restricted to the path
// through ?via=.
func (h *TrustHandler) Derive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	derived, err := h.svc.Derive(r.Context(),
		chi.URLParam(r, "from"),
		chi.URLParam(r, "to"),
		q.Get("scope"),
		q.Get("via"),
	)
	if err != nil {
		h.serviceError(w, r, err, "failed to derive trust")
		return
	}
	writeJSON(w, http.StatusOK, derived)
}

func (h *TrustHandler) serviceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidOpinion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, opinion.ErrDegenerateInput):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		middleware.LoggerFromContext(r.Context(), h.logger).Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}
