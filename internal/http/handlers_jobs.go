// Package httpx provides the JSON API surface for the ticketpress job system.
package httpx

import (
	"errors"
	"net/http"

	"github.com/ticketpress/ticketpress/internal/domain/model"
	"github.com/ticketpress/ticketpress/internal/service"
)

// JobHandlers provides HTTP handlers for render job operations.
type JobHandlers struct {
	Svc *service.JobService
}

// SubmitJob handles HTTP requests to submit a new render job. The body is the
// job spec itself; the response is the queued job record.
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var spec model.VectorJobSpec
	if !DecodeJSON(w, r, &spec) {
		return
	}

	job, err := h.Svc.Submit(r.Context(), spec)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// GetStatus handles HTTP requests to retrieve the status of a specific job.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	status, err := h.Svc.GetStatus(r.Context(), jobID)
	if err != nil {
		if isNotFound(err) {
			WriteError(
				w,
				ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: errors.New("job not found")},
			)
			return
		}
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// Stats handles HTTP requests to retrieve job counts per lifecycle state.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
