package handlers

import (
	"context"
	"encoding/json"
	"net"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/worker"
	"gitlab.com/encodefarm.net/internal/tcp/connectionmanager"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

var _ primary.MessageHandler = (*TaskDeleteHandler)(nil)

// TaskDeleteHandler stops a task the master canceled
type TaskDeleteHandler struct {
	Agent  worker.IWorkerAgent
	Logger primary.Logger
}

// HandleMessage implements the MessageHandler interface
func (h *TaskDeleteHandler) HandleMessage(ctx context.Context, conn net.Conn, payload []byte, _ *string) error {
	var req defs.TaskDeleteData
	if err := json.Unmarshal(payload, &req); err != nil {
		h.Logger.Error("Failed to parse task delete", "error", err)
		connectionmanager.SendErrorMessage(conn, defs.CodeInvalidPayload, "Invalid task delete")
		return nil
	}

	if !h.Agent.Stop(req.Key) {
		h.Logger.Debug("Task to delete is not running", "task", req.Key.String())
	}
	return connectionmanager.SendAck(conn, defs.AckOK, "")
}
