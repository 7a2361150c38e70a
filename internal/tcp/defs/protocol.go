package defs

import "time"

// Protocol constants
const (
	MagicNumber uint16 = 0xCAFE
	HeaderSize         = 8
	MaxPayload         = 16 << 20

	// Worker to master
	MsgConnectRequest  byte = 0x01
	MsgConnectResponse byte = 0x02
	MsgStatusReport    byte = 0x03
	MsgTaskReport      byte = 0x04
	MsgCrashReport     byte = 0x05
	MsgDisconnect      byte = 0x06

	// Either direction
	MsgBye   byte = 0x07
	MsgAck   byte = 0x08
	MsgError byte = 0x09

	// Master to worker
	MsgTaskRequest   byte = 0x0A
	MsgTaskDelete    byte = 0x0B
	MsgStatusRequest byte = 0x0C
	MsgDisconnectMe  byte = 0x0D

	// Configuration constants
	InitialRegistrationTimeout = 30 * time.Second
	IdleConnectionTimeout      = 5 * time.Minute
	ConnectionRetryDelay       = 1 * time.Second
)

// Error codes carried by MsgError frames
const (
	CodeUnknownMessage = 1016
	CodeInvalidPayload = 1001
	CodeUnknownSender  = 1003
	CodeNoAssignedTask = 1004
	CodeTaskMismatch   = 1005
	CodeInternal       = 1006
	CodeNotConnected   = 1007
)

// Ack status codes
const (
	AckOK      = 0
	AckRefused = 1
)

// MsgName returns a readable name for logs.
func MsgName(t byte) string {
	switch t {
	case MsgConnectRequest:
		return "connect_request"
	case MsgConnectResponse:
		return "connect_response"
	case MsgStatusReport:
		return "status_report"
	case MsgTaskReport:
		return "task_report"
	case MsgCrashReport:
		return "crash_report"
	case MsgDisconnect:
		return "disconnect"
	case MsgBye:
		return "bye"
	case MsgAck:
		return "ack"
	case MsgError:
		return "error"
	case MsgTaskRequest:
		return "task_request"
	case MsgTaskDelete:
		return "task_delete"
	case MsgStatusRequest:
		return "status_request"
	case MsgDisconnectMe:
		return "disconnect_me"
	}
	return "unknown"
}
