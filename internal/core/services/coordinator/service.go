package coordinator

import (
	"context"

	"gitlab.com/encodefarm.net/internal/domain"
)

// IMasterCoordinator processes worker messages and admin actions. It is the
// single serialized access point to the node registry and the scheduler.
type IMasterCoordinator interface {
	// Connect admits a worker; observedAddr overrides the address it claims
	Connect(ctx context.Context, req domain.ConnectRequest, observedAddr string) domain.ConnectResponse

	// Status applies a worker's status report
	Status(ctx context.Context, report domain.StatusReport) error

	// TaskReport applies progress for the task assigned to the sender
	TaskReport(ctx context.Context, report domain.TaskReport) error

	// Crash cancels the sender's task and fences the node on fatal crashes
	Crash(ctx context.Context, report domain.CrashReport) error

	// Disconnect deregisters the sender
	Disconnect(ctx context.Context, nodeID string) error

	// Reevaluate runs a dispatch cycle and sends what it committed
	Reevaluate(ctx context.Context) int

	// SubmitJob queues a job and triggers dispatch
	SubmitJob(ctx context.Context, job *domain.Job) error

	// CancelTask returns a task to TODO and tells its worker to stop
	CancelTask(ctx context.Context, key domain.TaskKey) error

	// DisconnectNode asks a worker to shut down and deregisters it
	DisconnectNode(ctx context.Context, nodeID string) error

	// RemoveNode forgets a node
	RemoveNode(ctx context.Context, nodeID string) error

	// CheckNodes polls every online node and drops the ones that do not answer
	CheckNodes(ctx context.Context)

	Nodes() []domain.NodeSnapshot
	Jobs() []*domain.Job

	// Restore loads the last checkpoint
	Restore(ctx context.Context) error

	// Checkpoint persists registry and jobs
	Checkpoint(ctx context.Context) error

	// CheckpointRequests signals when state changed since the last checkpoint
	CheckpointRequests() <-chan struct{}
}
