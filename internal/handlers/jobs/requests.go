package jobs

import (
	"github.com/google/uuid"

	"gitlab.com/encodefarm.net/internal/domain"
)

// CreateJobRequest represents a request to create a job
type CreateJobRequest = domain.JobRequest

// CreateJobResponse represents a response to a create job request
type CreateJobResponse struct {
	JobID uuid.UUID `json:"jobId"`
}

// JobView is a job with its derived status
type JobView struct {
	*domain.Job
	Status domain.JobStatus `json:"status"`
}

func viewOf(j *domain.Job) JobView {
	return JobView{Job: j, Status: j.Status()}
}
