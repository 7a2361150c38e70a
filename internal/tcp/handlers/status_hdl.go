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

var _ primary.MessageHandler = (*StatusReportHandler)(nil)

// StatusReportHandler handles worker status reports
type StatusReportHandler struct {
	Coordinator coordinator.IMasterCoordinator
	Logger      primary.Logger
}

// HandleMessage implements the MessageHandler interface
func (h *StatusReportHandler) HandleMessage(ctx context.Context, conn net.Conn, payload []byte, nodeID *string) error {
	var report domain.StatusReport
	if err := json.Unmarshal(payload, &report); err != nil {
		h.Logger.Error("Failed to parse status report", "error", err)
		connectionmanager.SendErrorMessage(conn, defs.CodeInvalidPayload, "Invalid status report")
		return nil
	}
	if senderMismatch(conn, nodeID, report.NodeID) {
		h.Logger.Error("Node ID mismatch in status report", "expected", *nodeID, "actual", report.NodeID)
		return nil
	}

	if err := h.Coordinator.Status(ctx, report); err != nil {
		h.Logger.Warn("Status report rejected", "nodeID", report.NodeID, "error", err)
		return replyError(conn, err)
	}
	*nodeID = report.NodeID
	h.Logger.Debug("Status report received", "nodeID", report.NodeID, "state", report.State, "tasks", len(report.Tasks))
	return connectionmanager.SendAck(conn, defs.AckOK, "")
}
