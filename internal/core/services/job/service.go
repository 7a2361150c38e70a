package job

import (
	"context"

	"github.com/google/uuid"

	"gitlab.com/encodefarm.net/internal/domain"
)

// IJobService is the admin-facing entry point for jobs
type IJobService interface {
	// EnqueueJob validates a request, builds the job and hands it to the scheduler
	EnqueueJob(ctx context.Context, req domain.JobRequest) (uuid.UUID, error)

	// GetJob retrieves a job by ID
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)

	// ListJobs returns pending jobs followed by archived ones
	ListJobs(ctx context.Context) []*domain.Job

	// CancelTask returns a task to TODO and stops it on its worker
	CancelTask(ctx context.Context, key domain.TaskKey) error

	// Codecs lists the codecs jobs may use
	Codecs() []domain.CodecInfo
}
