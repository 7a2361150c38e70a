package handlers

import (
	"context"
	"net"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/worker"
	"gitlab.com/encodefarm.net/internal/tcp/connectionmanager"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

var _ primary.MessageHandler = (*StatusRequestHandler)(nil)

// StatusRequestHandler answers the master's poll with a StatusReport
type StatusRequestHandler struct {
	Agent worker.IWorkerAgent
}

// HandleMessage implements the MessageHandler interface
func (h *StatusRequestHandler) HandleMessage(_ context.Context, conn net.Conn, _ []byte, _ *string) error {
	return connectionmanager.SendJSON(conn, defs.MsgStatusReport, h.Agent.Status())
}
