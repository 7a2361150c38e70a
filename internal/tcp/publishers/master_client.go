package publishers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/ports/secondary"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/static/errs"
	"gitlab.com/encodefarm.net/internal/tcp/connectionmanager"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

var _ secondary.MasterNotifier = (*MasterClient)(nil)

// MasterClient is the worker's side of the protocol
type MasterClient struct {
	Addr    string
	Timeout time.Duration
	Logger  primary.Logger
}

func NewMasterClient(addr string, timeout time.Duration, logger primary.Logger) *MasterClient {
	return &MasterClient{
		Addr:    addr,
		Timeout: timeout,
		Logger:  logger,
	}
}

func (c *MasterClient) Connect(ctx context.Context, req domain.ConnectRequest) (domain.ConnectResponse, error) {
	var resp domain.ConnectResponse
	respType, payload, err := connectionmanager.Call(ctx, c.Addr, defs.MsgConnectRequest, req, c.Timeout)
	if err != nil {
		return resp, err
	}
	if err := connectionmanager.Decode(respType, payload, defs.MsgConnectResponse, &resp); err != nil {
		return resp, remoteToSentinel(err)
	}
	return resp, nil
}

func (c *MasterClient) SendStatus(ctx context.Context, report domain.StatusReport) error {
	return c.expectAck(ctx, defs.MsgStatusReport, report)
}

func (c *MasterClient) SendTaskReport(ctx context.Context, report domain.TaskReport) error {
	return c.expectAck(ctx, defs.MsgTaskReport, report)
}

func (c *MasterClient) SendCrash(ctx context.Context, report domain.CrashReport) error {
	return c.expectAck(ctx, defs.MsgCrashReport, report)
}

func (c *MasterClient) Disconnect(ctx context.Context, nodeID string) error {
	respType, payload, err := connectionmanager.Call(ctx, c.Addr, defs.MsgDisconnect, domain.DisconnectRequest{NodeID: nodeID}, c.Timeout)
	if err != nil {
		return err
	}
	return remoteToSentinel(connectionmanager.Decode(respType, payload, defs.MsgBye, nil))
}

func (c *MasterClient) expectAck(ctx context.Context, msgType byte, v interface{}) error {
	respType, payload, err := connectionmanager.Call(ctx, c.Addr, msgType, v, c.Timeout)
	if err != nil {
		return err
	}
	return remoteToSentinel(connectionmanager.Decode(respType, payload, defs.MsgAck, nil))
}

// remoteToSentinel turns error frames back into the errors the master raised
func remoteToSentinel(err error) error {
	var remote *connectionmanager.RemoteError
	if !errors.As(err, &remote) {
		return err
	}
	switch remote.Code {
	case defs.CodeUnknownSender:
		return fmt.Errorf("%s: %w", remote.Message, errs.ErrNodeNotFound)
	case defs.CodeNoAssignedTask:
		return fmt.Errorf("%s: %w", remote.Message, errs.ErrNoAssignedTask)
	case defs.CodeTaskMismatch:
		return fmt.Errorf("%s: %w", remote.Message, errs.ErrTaskMismatch)
	case defs.CodeNotConnected:
		return fmt.Errorf("%s: %w", remote.Message, errs.ErrNotConnected)
	}
	return err
}
