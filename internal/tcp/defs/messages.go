package defs

import (
	"gitlab.com/encodefarm.net/internal/domain"
)

// Protocol data structures that are not domain messages
type (
	// AckData acknowledges a request
	AckData struct {
		Status  int    `json:"status"`
		Message string `json:"message,omitempty"`
	}

	// ErrorData represents data sent with error responses
	ErrorData struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	// TaskRequestData carries a dispatched task
	TaskRequestData struct {
		Task *domain.Task `json:"task"`
	}

	// TaskDeleteData names a task to stop
	TaskDeleteData struct {
		Key domain.TaskKey `json:"key"`
	}
)
