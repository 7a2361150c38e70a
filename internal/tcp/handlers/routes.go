package handlers

import (
	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/coordinator"
	"gitlab.com/encodefarm.net/internal/core/services/worker"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

// MasterHandlers routes worker-originated messages to the coordinator
func MasterHandlers(coord coordinator.IMasterCoordinator, logger primary.Logger) map[byte]primary.MessageHandler {
	return map[byte]primary.MessageHandler{
		defs.MsgConnectRequest: &ConnectHandler{Coordinator: coord, Logger: logger},
		defs.MsgStatusReport:   &StatusReportHandler{Coordinator: coord, Logger: logger},
		defs.MsgTaskReport:     &TaskReportHandler{Coordinator: coord, Logger: logger},
		defs.MsgCrashReport:    &CrashReportHandler{Coordinator: coord, Logger: logger},
		defs.MsgDisconnect:     &DisconnectHandler{Coordinator: coord, Logger: logger},
	}
}

// WorkerHandlers routes master-originated messages to the agent
func WorkerHandlers(agent worker.IWorkerAgent, logger primary.Logger) map[byte]primary.MessageHandler {
	return map[byte]primary.MessageHandler{
		defs.MsgTaskRequest:   &TaskRequestHandler{Agent: agent, Logger: logger},
		defs.MsgTaskDelete:    &TaskDeleteHandler{Agent: agent, Logger: logger},
		defs.MsgStatusRequest: &StatusRequestHandler{Agent: agent},
		defs.MsgDisconnectMe:  &DisconnectMeHandler{Agent: agent, Logger: logger},
	}
}
