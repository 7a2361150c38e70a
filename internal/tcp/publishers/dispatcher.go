package publishers

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/ports/secondary"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/tcp/connectionmanager"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

var _ secondary.TaskDispatcher = (*TaskDispatcher)(nil)

// TaskDispatcher sends master requests to worker listeners. Every call is
// one short-lived connection.
type TaskDispatcher struct {
	Timeout time.Duration
	Logger  primary.Logger
}

func NewTaskDispatcher(timeout time.Duration, logger primary.Logger) *TaskDispatcher {
	return &TaskDispatcher{
		Timeout: timeout,
		Logger:  logger,
	}
}

// Dispatch sends a TaskRequest. A refusal Ack is reported as (false, nil);
// transport failures and error frames as errors.
func (d *TaskDispatcher) Dispatch(ctx context.Context, addr string, task *domain.Task) (bool, error) {
	respType, payload, err := connectionmanager.Call(ctx, addr, defs.MsgTaskRequest, defs.TaskRequestData{Task: task}, d.Timeout)
	if err != nil {
		return false, err
	}
	var ack defs.AckData
	if err := connectionmanager.Decode(respType, payload, defs.MsgAck, &ack); err != nil {
		return false, err
	}
	if ack.Status != defs.AckOK {
		d.Logger.Debug("Worker refused task", "addr", addr, "task", task.Key().String(), "reason", ack.Message)
		return false, nil
	}
	return true, nil
}

func (d *TaskDispatcher) CancelTask(ctx context.Context, addr string, key domain.TaskKey) error {
	respType, payload, err := connectionmanager.Call(ctx, addr, defs.MsgTaskDelete, defs.TaskDeleteData{Key: key}, d.Timeout)
	if err != nil {
		return err
	}
	return connectionmanager.Decode(respType, payload, defs.MsgAck, nil)
}

func (d *TaskDispatcher) RequestStatus(ctx context.Context, addr string) (domain.StatusReport, error) {
	var report domain.StatusReport
	respType, payload, err := connectionmanager.Call(ctx, addr, defs.MsgStatusRequest, struct{}{}, d.Timeout)
	if err != nil {
		return report, err
	}
	if err := connectionmanager.Decode(respType, payload, defs.MsgStatusReport, &report); err != nil {
		return report, fmt.Errorf("status request to %s: %w", addr, err)
	}
	return report, nil
}

func (d *TaskDispatcher) DisconnectNode(ctx context.Context, addr string) error {
	respType, payload, err := connectionmanager.Call(ctx, addr, defs.MsgDisconnectMe, struct{}{}, d.Timeout)
	if err != nil {
		return err
	}
	return connectionmanager.Decode(respType, payload, defs.MsgBye, nil)
}
