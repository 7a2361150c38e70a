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

var _ primary.MessageHandler = (*TaskRequestHandler)(nil)

// TaskRequestHandler takes a dispatched task on the worker side. A refusal
// is an Ack with status AckRefused, never an error frame.
type TaskRequestHandler struct {
	Agent  worker.IWorkerAgent
	Logger primary.Logger
}

// HandleMessage implements the MessageHandler interface
func (h *TaskRequestHandler) HandleMessage(ctx context.Context, conn net.Conn, payload []byte, _ *string) error {
	var req defs.TaskRequestData
	if err := json.Unmarshal(payload, &req); err != nil || req.Task == nil {
		h.Logger.Error("Failed to parse task request", "error", err)
		connectionmanager.SendErrorMessage(conn, defs.CodeInvalidPayload, "Invalid task request")
		return nil
	}

	if err := h.Agent.Accept(ctx, req.Task); err != nil {
		h.Logger.Warn("Task refused", "task", req.Task.Key().String(), "error", err)
		return connectionmanager.SendAck(conn, defs.AckRefused, err.Error())
	}
	return connectionmanager.SendAck(conn, defs.AckOK, "")
}
