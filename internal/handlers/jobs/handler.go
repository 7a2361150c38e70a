package jobs

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/job"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/handlers"
)

// JobHandler handles job API requests
type JobHandler struct {
	jobService job.IJobService
	logger     primary.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService job.IJobService, logger primary.Logger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// RegisterRoutes registers the API routes for JobHandler
func (h *JobHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/jobs", h.CreateJob).Methods("POST")
	router.HandleFunc("/api/jobs", h.ListJobs).Methods("GET")
	router.HandleFunc("/api/jobs/{jobId}", h.GetJob).Methods("GET")
	router.HandleFunc("/api/jobs/{jobId}/tasks/{taskId}/cancel", h.CancelTask).Methods("POST")
	router.HandleFunc("/api/codecs", h.GetCodecs).Methods("GET")
}

// CreateJob handles job creation requests
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", "error", err)
		handlers.ResponseError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	jobID, err := h.jobService.EnqueueJob(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to create job", "error", err)
		handlers.ResponseError(w, err.Error(), handlers.StatusFor(err))
		return
	}

	handlers.ResponseWithJson(w, http.StatusAccepted, CreateJobResponse{JobID: jobID})
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobService.ListJobs(r.Context())
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	handlers.ResponseWithJson(w, http.StatusOK, views)
}

// GetJob handles job retrieval requests
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseJobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		handlers.ResponseError(w, err.Error(), handlers.StatusFor(err))
		return
	}
	handlers.ResponseWithJson(w, http.StatusOK, viewOf(j))
}

// CancelTask returns one task to the queue
func (h *JobHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseJobID(w, r)
	if !ok {
		return
	}
	taskID, err := strconv.Atoi(mux.Vars(r)["taskId"])
	if err != nil {
		handlers.ResponseError(w, "Invalid task ID", http.StatusBadRequest)
		return
	}

	key := domain.TaskKey{JobID: jobID, TaskID: taskID}
	if err := h.jobService.CancelTask(r.Context(), key); err != nil {
		h.logger.Error("Failed to cancel task", "task", key.String(), "error", err)
		handlers.ResponseError(w, err.Error(), handlers.StatusFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCodecs lists the codecs a job may request
func (h *JobHandler) GetCodecs(w http.ResponseWriter, r *http.Request) {
	handlers.ResponseWithJson(w, http.StatusOK, h.jobService.Codecs())
}

func (h *JobHandler) parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobIDStr := mux.Vars(r)["jobId"]
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		h.logger.Error("Invalid job ID", "id", jobIDStr)
		handlers.ResponseError(w, "Invalid job ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return jobID, true
}
