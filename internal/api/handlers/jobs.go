package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/Harshitk-cp/skytrust/internal/api/middleware"
	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type JobHandler struct {
	svc    *service.JobService
	logger *zap.Logger
}

func NewJobHandler(svc *service.JobService, logger *zap.Logger) *JobHandler {
	return &JobHandler{svc: svc, logger: logger}
}

type lookupRequest struct {
	Handle string `json:"handle"`
	Force  bool   `json:"force,omitempty"`
}

type lookupResponse struct {
	DID    string          `json:"did"`
	JobID  string          `json:"jobId"`
	Status domain.JobState `json:"status"`
}

type enqueueRequest struct {
	DID    string `json:"did"`
	Handle string `json:"handle,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

type enqueueResponse struct {
	JobID  string          `json:"jobId"`
	Status domain.JobState `json:"status"`
}

type failRequest struct {
	Reason string `json:"reason"`
	// Attempt is the claim being failed. Zero fails the current claim.
	Attempt int `json:"attempt"`
}

// Lookup resolves a handle and queues a score job for it.
func (h *JobHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.svc.Lookup(r.Context(), req.Handle, req.Force)
	if err != nil {
		h.serviceError(w, r, err, "failed to queue lookup")
		return
	}
	writeJSON(w, http.StatusAccepted, lookupResponse{DID: job.Identity, JobID: job.ID, Status: job.State})
}

func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.svc.Enqueue(r.Context(), req.DID, req.Handle, req.Force)
	if err != nil {
		h.serviceError(w, r, err, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: job.ID, Status: job.State})
}

func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, r, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Next hands the oldest claimable job to a remote worker, or 204 when
// there is none.
func (h *JobHandler) Next(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Next(r.Context())
	if err != nil {
		h.serviceError(w, r, err, "failed to claim job")
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) Done(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkDone(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.serviceError(w, r, err, "failed to mark job done")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Attempt < 0 {
		writeError(w, http.StatusBadRequest, "attempt must not be negative")
		return
	}
	if req.Reason == "" {
		req.Reason = "worker reported failure"
	}

	if err := h.svc.Fail(r.Context(), chi.URLParam(r, "id"), req.Attempt, req.Reason); err != nil {
		h.serviceError(w, r, err, "failed to record job failure")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) serviceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		middleware.LoggerFromContext(r.Context(), h.logger).Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}
