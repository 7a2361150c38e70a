package job

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/coordinator"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/static/errs"
)

var _ IJobService = (*JobService)(nil)

// JobService implements the JobService interface
type JobService struct {
	coordinator coordinator.IMasterCoordinator
	logger      primary.Logger
}

// NewJobService creates a new job service
func NewJobService(coord coordinator.IMasterCoordinator, logger primary.Logger) *JobService {
	return &JobService{
		coordinator: coord,
		logger:      logger,
	}
}

// EnqueueJob adds a job to the queue
func (s *JobService) EnqueueJob(ctx context.Context, req domain.JobRequest) (uuid.UUID, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return uuid.Nil, fmt.Errorf("job name is required: %w", errs.ErrInvalidJob)
	}
	if len(req.Tasks) == 0 {
		return uuid.Nil, fmt.Errorf("job %q has no tasks: %w", name, errs.ErrInvalidJob)
	}

	tasks := make([]*domain.Task, 0, len(req.Tasks))
	for i, spec := range req.Tasks {
		t, err := buildTask(i+1, spec)
		if err != nil {
			return uuid.Nil, err
		}
		tasks = append(tasks, t)
	}

	job := domain.NewJob(name, tasks)
	s.logger.Info("Enqueueing job", "jobId", job.ID, "name", name, "tasks", len(tasks))

	if err := s.coordinator.SubmitJob(ctx, job); err != nil {
		s.logger.Error("Failed to submit job", "jobId", job.ID, "error", err)
		return uuid.Nil, err
	}
	return job.ID, nil
}

func buildTask(position int, spec domain.TaskRequest) (*domain.Task, error) {
	info, ok := domain.LookupCodec(spec.Codec)
	if !ok {
		return nil, fmt.Errorf("task %d: codec %q: %w", position, spec.Codec, errs.ErrUnknownCodec)
	}
	kind := spec.Kind
	if kind == "" {
		kind = info.Kind
	}
	id := spec.TaskID
	if id == 0 {
		id = position
	}
	if spec.Input == "" || spec.Output == "" {
		return nil, fmt.Errorf("task %d: input and output are required: %w", id, errs.ErrInvalidJob)
	}

	var t *domain.Task
	switch kind {
	case domain.TaskKindVideo:
		if spec.Video == nil {
			return nil, fmt.Errorf("task %d: video settings are required: %w", id, errs.ErrInvalidJob)
		}
		if spec.Video.EndMs <= spec.Video.StartMs {
			return nil, fmt.Errorf("task %d: empty time range: %w", id, errs.ErrInvalidJob)
		}
		t = domain.NewVideoTask(id, info.ID, spec.Input, spec.Output, *spec.Video)
	case domain.TaskKindAudio:
		if spec.Audio == nil {
			return nil, fmt.Errorf("task %d: audio settings are required: %w", id, errs.ErrInvalidJob)
		}
		t = domain.NewAudioTask(id, info.ID, spec.Input, spec.Output, *spec.Audio)
	default:
		return nil, fmt.Errorf("task %d: kind %q: %w", id, kind, errs.ErrInvalidJob)
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrInvalidJob)
	}
	return t, nil
}

// GetJob retrieves a job by ID
func (s *JobService) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	for _, j := range s.coordinator.Jobs() {
		if j.ID == jobID {
			return j, nil
		}
	}
	return nil, fmt.Errorf("job %s: %w", jobID, errs.ErrJobNotFound)
}

func (s *JobService) ListJobs(ctx context.Context) []*domain.Job {
	return s.coordinator.Jobs()
}

func (s *JobService) CancelTask(ctx context.Context, key domain.TaskKey) error {
	s.logger.Info("Canceling task", "task", key.String())
	return s.coordinator.CancelTask(ctx, key)
}

func (s *JobService) Codecs() []domain.CodecInfo {
	ids := domain.AllCodecs()
	out := make([]domain.CodecInfo, 0, len(ids))
	for _, id := range ids {
		info, _ := domain.LookupCodec(id)
		out = append(out, info)
	}
	return out
}
