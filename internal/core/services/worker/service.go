package worker

import (
	"context"

	"gitlab.com/encodefarm.net/internal/domain"
)

// IWorkerAgent runs dispatched tasks on one node and keeps the master
// informed about them.
type IWorkerAgent interface {
	// Accept takes a task into a free converter slot and starts it. It returns
	// errs.ErrNoFreeSlot or errs.ErrNotConnected when the task is refused.
	Accept(ctx context.Context, task *domain.Task) error

	// Stop cancels a running task without reporting it; false if unknown
	Stop(key domain.TaskKey) bool

	// Status snapshots the node state and every running task
	Status() domain.StatusReport

	// RequestShutdown makes Run disconnect and return
	RequestShutdown()

	// Run connects to the master and serves until ctx ends or shutdown
	Run(ctx context.Context) error

	NodeID() string
}
