package secondary

import (
	"context"

	"gitlab.com/encodefarm.net/internal/domain"
)

// JobRepository checkpoints jobs and their tasks.
type JobRepository interface {
	// SaveJob upserts a job with all of its tasks
	SaveJob(ctx context.Context, job *domain.Job) error

	// LoadJobs returns stored jobs in submission order
	LoadJobs(ctx context.Context) ([]*domain.Job, error)
}
