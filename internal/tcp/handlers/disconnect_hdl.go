package handlers

import (
	"context"
	"encoding/json"
	"net"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/coordinator"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/tcp/connectionmanager"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

var _ primary.MessageHandler = (*DisconnectHandler)(nil)

// DisconnectHandler deregisters a worker that is leaving
type DisconnectHandler struct {
	Coordinator coordinator.IMasterCoordinator
	Logger      primary.Logger
}

// HandleMessage implements the MessageHandler interface
func (h *DisconnectHandler) HandleMessage(ctx context.Context, conn net.Conn, payload []byte, nodeID *string) error {
	var req domain.DisconnectRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.Logger.Error("Failed to parse disconnect", "error", err)
		connectionmanager.SendErrorMessage(conn, defs.CodeInvalidPayload, "Invalid disconnect")
		return nil
	}
	if senderMismatch(conn, nodeID, req.NodeID) {
		return nil
	}

	if err := h.Coordinator.Disconnect(ctx, req.NodeID); err != nil {
		return replyError(conn, err)
	}
	h.Logger.Info("Node said goodbye", "nodeID", req.NodeID)
	*nodeID = ""
	return connectionmanager.SendJSON(conn, defs.MsgBye, struct{}{})
}
