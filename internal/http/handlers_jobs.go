package httpx

import (
	"errors"
	"net/http"

	"github.com/verdantiq/verdantiq/internal/domain/model"
	apperrors "github.com/verdantiq/verdantiq/internal/errors"
	"github.com/verdantiq/verdantiq/internal/service"
)

// JobHandlers provides HTTP handlers for job submission and inspection.
type JobHandlers struct {
	Queue    *service.QueueService
	Registry *service.Registry
}

// submitResponse is the body returned by SubmitJob.
type submitResponse struct {
	JobID          string          `json:"job_id"`
	Type           model.JobType   `json:"type"`
	State          model.JobState  `json:"state"`
	IdempotencyKey string          `json:"idempotency_key"`
	Deduplicated   bool            `json:"deduplicated"`
}

// SubmitJob handles HTTP requests to submit a new job. A deduplicated
// submission returns 200 with the winning job; a fresh one returns 201.
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if h.Registry != nil {
		if _, ok := h.Registry.Get(req.Type); !ok {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "unregistered_job_type",
				Err:     errors.New("no handler registered for job type " + string(req.Type)),
			})
			return
		}
	}

	receipt, err := h.Queue.Submit(r.Context(), &req)
	if err != nil {
		WriteError(w, ErrorParams{Code: submitErrorStatus(err), ErrCode: "submit_failed", Err: err})
		return
	}

	code := http.StatusCreated
	if receipt.Deduplicated {
		code = http.StatusOK
	}
	WriteJSON(w, code, submitResponse{
		JobID:          receipt.Job.ID,
		Type:           receipt.Job.Type,
		State:          receipt.Job.State,
		IdempotencyKey: receipt.IdempotencyKey,
		Deduplicated:   receipt.Deduplicated,
	})
}

// GetStatus handles HTTP requests to retrieve the status of a specific job.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobType, jobID, ok := jobPathValues(w, r)
	if !ok {
		return
	}

	status, err := h.Queue.GetStatus(r.Context(), jobType, jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			WriteError(w, ErrorParams{
				Code:    http.StatusNotFound,
				ErrCode: "job_not_found",
				Err:     errors.New("job not found"),
			})
			return
		}
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "get_status_failed",
			Err:     errors.New("failed to get job status"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// CancelJob handles HTTP requests to cancel a job. The response reports
// whether the cancellation was immediate; for leased jobs it is advisory.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobType, jobID, ok := jobPathValues(w, r)
	if !ok {
		return
	}

	cancelled, err := h.Queue.Cancel(r.Context(), jobType, jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			WriteError(w, ErrorParams{
				Code:    http.StatusNotFound,
				ErrCode: "job_not_found",
				Err:     errors.New("job not found"),
			})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "cancel_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// Stats handles HTTP requests to retrieve per-type job counts.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.Stats(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// submitErrorStatus maps structured submission errors to HTTP statuses.
// Validation failures and conflicts are the caller's fault; an unreachable
// backing store is not.
func submitErrorStatus(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeUnavailable, apperrors.ErrCodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// jobPathValues extracts and validates the {type} and {id} path values.
// On failure it writes the error response and returns ok=false.
func jobPathValues(w http.ResponseWriter, r *http.Request) (model.JobType, string, bool) {
	jobType := model.JobType(r.PathValue("type"))
	if !jobType.Valid() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("unknown job type " + string(jobType)),
		})
		return "", "", false
	}
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("job id is required"),
		})
		return "", "", false
	}
	return jobType, jobID, true
}
