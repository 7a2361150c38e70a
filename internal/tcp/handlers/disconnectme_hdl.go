package handlers

import (
	"context"
	"net"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/worker"
	"gitlab.com/encodefarm.net/internal/tcp/connectionmanager"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

var _ primary.MessageHandler = (*DisconnectMeHandler)(nil)

// DisconnectMeHandler answers Bye and shuts the worker down
type DisconnectMeHandler struct {
	Agent  worker.IWorkerAgent
	Logger primary.Logger
}

// HandleMessage implements the MessageHandler interface
func (h *DisconnectMeHandler) HandleMessage(_ context.Context, conn net.Conn, _ []byte, _ *string) error {
	h.Logger.Info("Master asked this node to disconnect")
	err := connectionmanager.SendJSON(conn, defs.MsgBye, struct{}{})
	h.Agent.RequestShutdown()
	return err
}
