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

var _ primary.MessageHandler = (*CrashReportHandler)(nil)

// CrashReportHandler handles worker crash reports
type CrashReportHandler struct {
	Coordinator coordinator.IMasterCoordinator
	Logger      primary.Logger
}

// HandleMessage implements the MessageHandler interface
func (h *CrashReportHandler) HandleMessage(ctx context.Context, conn net.Conn, payload []byte, nodeID *string) error {
	var report domain.CrashReport
	if err := json.Unmarshal(payload, &report); err != nil {
		h.Logger.Error("Failed to parse crash report", "error", err)
		connectionmanager.SendErrorMessage(conn, defs.CodeInvalidPayload, "Invalid crash report")
		return nil
	}
	if senderMismatch(conn, nodeID, report.NodeID) {
		return nil
	}

	if err := h.Coordinator.Crash(ctx, report); err != nil {
		return replyError(conn, err)
	}
	*nodeID = report.NodeID
	return connectionmanager.SendAck(conn, defs.AckOK, "")
}
