package schedule

import (
	"gitlab.com/encodefarm.net/internal/domain"
)

// Assignment is a committed task to node pairing waiting to be sent.
type Assignment struct {
	NodeID string
	Addr   string
	Task   *domain.Task
}

// ISchedulerService matches pending tasks to free capacity. Like the
// registry it is owned by the coordinator and not safe for concurrent use.
type ISchedulerService interface {
	// SubmitJob queues every task of job as TODO
	SubmitJob(job *domain.Job) error

	// PickNextTask returns the first TODO task in submission order
	PickNextTask() *domain.Task

	// PickNode returns the first node able to run task
	PickNode(task *domain.Task) *domain.Node

	// DispatchCycle commits as many pairings as capacity allows
	DispatchCycle() []Assignment

	// Requeue resets a task back to TODO and unlinks it from its node
	Requeue(task *domain.Task)

	// Find resolves a task by key
	Find(key domain.TaskKey) (*domain.Job, *domain.Task, error)

	// Archive moves finished jobs out of the pending queue
	Archive() []*domain.Job

	// Jobs lists pending jobs then archived ones
	Jobs() []*domain.Job

	// Restore reloads jobs from a checkpoint
	Restore(jobs []*domain.Job)
}
