package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"conduit/internal/cron"
)

// CronHandler serves the background job endpoints.
type CronHandler struct {
	scheduler *cron.Scheduler
}

// NewCronHandler creates a cron handler.
func NewCronHandler(scheduler *cron.Scheduler) *CronHandler {
	return &CronHandler{scheduler: scheduler}
}

// RegisterRoutes mounts the handler under /api/v1/cron.
func (h *CronHandler) RegisterRoutes(router *mux.Router) {
	sub := router.PathPrefix("/api/v1/cron").Subrouter()

	sub.HandleFunc("/jobs", h.HandleListJobs).Methods(http.MethodGet)
	sub.HandleFunc("/jobs", h.HandleCreateJob).Methods(http.MethodPost)
	sub.HandleFunc("/jobs/{name}", h.HandleGetJob).Methods(http.MethodGet)
	sub.HandleFunc("/jobs/{name}", h.HandleUpdateJob).Methods(http.MethodPut, http.MethodPatch)
	sub.HandleFunc("/jobs/{name}", h.HandleDeleteJob).Methods(http.MethodDelete)
	sub.HandleFunc("/jobs/{name}/run", h.HandleRunJob).Methods(http.MethodPost)

	sub.HandleFunc("/history", h.HandleListHistory).Methods(http.MethodGet)
}

// HandleListJobs returns all jobs.
func (h *CronHandler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.scheduler.ListJobs(r.Context())
	if err != nil {
		sendCronError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*cron.Job{}
	}
	SendJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// HandleCreateJob creates a job.
func (h *CronHandler) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	var create cron.JobCreate
	if err := DecodeJSON(r, &create); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	job, err := h.scheduler.AddJob(r.Context(), create)
	if err != nil {
		sendCronError(w, err)
		return
	}
	SendJSON(w, http.StatusCreated, job)
}

// HandleGetJob returns a job by name.
func (h *CronHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.GetJob(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		sendCronError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, job)
}

// HandleUpdateJob patches a job.
func (h *CronHandler) HandleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var patch cron.JobPatch
	if err := DecodeJSON(r, &patch); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	job, err := h.scheduler.UpdateJob(r.Context(), mux.Vars(r)["name"], patch)
	if err != nil {
		sendCronError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, job)
}

// HandleDeleteJob deletes a job.
func (h *CronHandler) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.RemoveJob(r.Context(), mux.Vars(r)["name"]); err != nil {
		sendCronError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRunJob fires a job now. A rejected enqueue still returns its
// history entry.
func (h *CronHandler) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	entry, err := h.scheduler.RunNow(r.Context(), mux.Vars(r)["name"])
	if err != nil && entry == nil {
		sendCronError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, entry)
}

// HandleListHistory returns recent firings, optionally filtered by ?job=.
func (h *CronHandler) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	entries, err := h.scheduler.History(r.Context(), r.URL.Query().Get("job"), limit)
	if err != nil {
		sendCronError(w, err)
		return
	}
	if entries == nil {
		entries = []*cron.HistoryEntry{}
	}
	SendJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func sendCronError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cron.ErrJobNotFound), errors.Is(err, cron.ErrHistoryNotFound):
		SendError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, cron.ErrJobExists):
		SendError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, cron.ErrInvalidSchedule):
		SendError(w, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, cron.ErrSchedulerNotRunning):
		SendError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, err.Error())
	default:
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
