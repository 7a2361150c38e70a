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

// Implementation of message handlers
// Each handler deals with one specific message type

var _ primary.MessageHandler = (*ConnectHandler)(nil)

// ConnectHandler handles the worker handshake
type ConnectHandler struct {
	Coordinator coordinator.IMasterCoordinator
	Logger      primary.Logger
}

// HandleMessage implements the MessageHandler interface
func (h *ConnectHandler) HandleMessage(ctx context.Context, conn net.Conn, payload []byte, nodeID *string) error {
	var req domain.ConnectRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.Logger.Error("Failed to parse connect request", "error", err)
		connectionmanager.SendErrorMessage(conn, defs.CodeInvalidPayload, "Invalid connect request")
		return nil
	}

	observed := ""
	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		observed = host
	}

	resp := h.Coordinator.Connect(ctx, req, observed)
	if resp.NodeID == "" {
		h.Logger.Warn("Connect refused", "name", req.Node.Name, "reason", resp.RejectReason)
	} else {
		*nodeID = resp.NodeID
		h.Logger.Info("Node connected", "nodeID", resp.NodeID, "name", req.Node.Name, "address", observed)
	}
	return connectionmanager.SendJSON(conn, defs.MsgConnectResponse, resp)
}
