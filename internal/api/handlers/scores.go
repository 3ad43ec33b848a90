package handlers

import (
	"errors"
	"net/http"

	"github.com/Harshitk-cp/skytrust/internal/api/middleware"
	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ScoreHandler struct {
	svc    *service.ScoreService
	logger *zap.Logger
}

func NewScoreHandler(svc *service.ScoreService, logger *zap.Logger) *ScoreHandler {
	return &ScoreHandler{svc: svc, logger: logger}
}

// Get returns the stored document. Identities that were never scored get
// the default document rather than a 404.
func (h *ScoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		middleware.LoggerFromContext(r.Context(), h.logger).Error("failed to get scores", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get scores")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Upsert replaces a document. Remote workers post their results here.
func (h *ScoreHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var doc domain.UserScoreDocument
	if err := decodeJSON(w, r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.Put(r.Context(), doc); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidOpinion):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			middleware.LoggerFromContext(r.Context(), h.logger).Error("failed to store scores", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store scores")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "did": doc.Identity})
}
