package secondary

import (
	"context"

	"gitlab.com/encodefarm.net/internal/domain"
)

// TaskDispatcher is the master's outbound channel to a worker at addr.
type TaskDispatcher interface {
	// Dispatch sends a task and reports whether the worker took it
	Dispatch(ctx context.Context, addr string, task *domain.Task) (bool, error)

	CancelTask(ctx context.Context, addr string, key domain.TaskKey) error

	RequestStatus(ctx context.Context, addr string) (domain.StatusReport, error)

	DisconnectNode(ctx context.Context, addr string) error
}

// MasterNotifier is the worker's outbound channel to the master.
type MasterNotifier interface {
	Connect(ctx context.Context, req domain.ConnectRequest) (domain.ConnectResponse, error)
	SendStatus(ctx context.Context, report domain.StatusReport) error
	SendTaskReport(ctx context.Context, report domain.TaskReport) error
	SendCrash(ctx context.Context, report domain.CrashReport) error
	Disconnect(ctx context.Context, nodeID string) error
}
