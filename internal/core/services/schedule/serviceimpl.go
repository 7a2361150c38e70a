package schedule

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/registry"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/static/errs"
)

var _ ISchedulerService = &SchedulerService{}

// SchedulerService implements ISchedulerService with a strict FIFO policy
type SchedulerService struct {
	registry registry.INodeRegistry
	pending  []*domain.Job
	archived []*domain.Job
	logger   primary.Logger
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(nodes registry.INodeRegistry, logger primary.Logger) *SchedulerService {
	return &SchedulerService{
		registry: nodes,
		logger:   logger,
	}
}

func (s *SchedulerService) SubmitJob(job *domain.Job) error {
	if len(job.Tasks) == 0 {
		return fmt.Errorf("job %s has no tasks: %w", job.ID, errs.ErrInvalidJob)
	}
	seen := make(map[int]bool, len(job.Tasks))
	for _, t := range job.Tasks {
		if seen[t.TaskID] {
			return fmt.Errorf("job %s: duplicate task id %d: %w", job.ID, t.TaskID, errs.ErrInvalidJob)
		}
		seen[t.TaskID] = true
		if err := t.Validate(); err != nil {
			return fmt.Errorf("job %s: %v: %w", job.ID, err, errs.ErrInvalidJob)
		}
		t.JobID = job.ID
		t.NodeID = ""
		t.Progress.Reset()
	}
	s.pending = append(s.pending, job)
	s.logger.Info("Job submitted", "jobID", job.ID, "name", job.Name, "tasks", len(job.Tasks))
	return nil
}

func (s *SchedulerService) PickNextTask() *domain.Task {
	for _, job := range s.pending {
		for _, t := range job.Tasks {
			if t.State() == domain.TaskTodo {
				return t
			}
		}
	}
	return nil
}

func (s *SchedulerService) PickNode(task *domain.Task) *domain.Node {
	for _, node := range s.registry.FreeNodes(task.Kind) {
		if node.Supports(task.Codec) {
			return node
		}
	}
	return nil
}

// DispatchCycle walks TODO tasks in submission order. A task with no
// eligible node is skipped so a later task of another kind can still use
// the capacity that is left; the walk stops once no node is free at all.
func (s *SchedulerService) DispatchCycle() []Assignment {
	var out []Assignment
	for _, job := range s.pending {
		for _, t := range job.Tasks {
			if t.State() != domain.TaskTodo {
				continue
			}
			if !s.anyCapacity() {
				return s.logCycle(out)
			}
			node := s.PickNode(t)
			if node == nil {
				continue
			}
			s.commit(t, node)
			out = append(out, Assignment{
				NodeID: node.ID,
				Addr:   net.JoinHostPort(node.Address, strconv.Itoa(node.Port)),
				Task:   t.Clone(),
			})
		}
	}
	return s.logCycle(out)
}

func (s *SchedulerService) logCycle(out []Assignment) []Assignment {
	if len(out) == 0 {
		if s.PickNextTask() == nil {
			s.logger.Debug("Dispatch cycle: no work")
		} else {
			s.logger.Debug("Dispatch cycle: no nodes")
		}
	}
	return out
}

func (s *SchedulerService) anyCapacity() bool {
	return len(s.registry.FreeNodes(domain.TaskKindVideo)) > 0 ||
		len(s.registry.FreeNodes(domain.TaskKindAudio)) > 0
}

// commit records the pairing on both sides before anything is sent.
func (s *SchedulerService) commit(t *domain.Task, node *domain.Node) {
	t.Progress.State = domain.TaskDispatched
	t.NodeID = node.ID
	node.Assign(t)
	node.State = domain.NodeWorking
	s.logger.Info("Task dispatched", "task", t.Key().String(), "kind", t.Kind, "nodeID", node.ID)
}

func (s *SchedulerService) Requeue(task *domain.Task) {
	if task.NodeID != "" {
		if node, err := s.registry.Lookup(task.NodeID); err == nil {
			node.Unassign(task)
		}
	}
	task.NodeID = ""
	task.Progress.Reset()
	s.logger.Info("Task requeued", "task", task.Key().String())
}

func (s *SchedulerService) Find(key domain.TaskKey) (*domain.Job, *domain.Task, error) {
	for _, jobs := range [][]*domain.Job{s.pending, s.archived} {
		for _, job := range jobs {
			if job.ID != key.JobID {
				continue
			}
			t := job.Task(key.TaskID)
			if t == nil {
				return job, nil, fmt.Errorf("task %s: %w", key, errs.ErrTaskNotFound)
			}
			return job, t, nil
		}
	}
	return nil, nil, fmt.Errorf("job %s: %w", key.JobID, errs.ErrJobNotFound)
}

func (s *SchedulerService) Archive() []*domain.Job {
	var done []*domain.Job
	kept := s.pending[:0]
	for _, job := range s.pending {
		if job.Done() {
			now := time.Now()
			job.CompletedAt = &now
			done = append(done, job)
			s.logger.Info("Job completed", "jobID", job.ID, "name", job.Name)
			continue
		}
		kept = append(kept, job)
	}
	s.pending = kept
	s.archived = append(s.archived, done...)
	return done
}

func (s *SchedulerService) Jobs() []*domain.Job {
	out := make([]*domain.Job, 0, len(s.pending)+len(s.archived))
	out = append(out, s.pending...)
	return append(out, s.archived...)
}

// Restore requeues tasks that were in flight: after a master restart no
// node is connected, so nobody holds them.
func (s *SchedulerService) Restore(jobs []*domain.Job) {
	for _, job := range jobs {
		for _, t := range job.Tasks {
			if t.State() != domain.TaskCompleted {
				t.NodeID = ""
				t.Progress.Reset()
			}
		}
		if job.Done() {
			s.archived = append(s.archived, job)
			continue
		}
		s.pending = append(s.pending, job)
	}
	s.logger.Info("Jobs restored", "count", len(jobs))
}
