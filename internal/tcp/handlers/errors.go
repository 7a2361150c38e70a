package handlers

import (
	"errors"
	"net"

	"gitlab.com/encodefarm.net/internal/static/errs"
	"gitlab.com/encodefarm.net/internal/tcp/connectionmanager"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

// errorCode maps service errors onto wire error codes
func errorCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrNodeNotFound):
		return defs.CodeUnknownSender
	case errors.Is(err, errs.ErrNoAssignedTask):
		return defs.CodeNoAssignedTask
	case errors.Is(err, errs.ErrTaskMismatch):
		return defs.CodeTaskMismatch
	case errors.Is(err, errs.ErrNotConnected):
		return defs.CodeNotConnected
	}
	return defs.CodeInternal
}

// replyError answers a request that failed in the service layer. The
// connection stays usable, so the write error is the only one returned.
func replyError(conn net.Conn, err error) error {
	return connectionmanager.SendJSON(conn, defs.MsgError, defs.ErrorData{Code: errorCode(err), Message: err.Error()})
}

// senderMismatch rejects a message whose sender differs from the identity
// already bound to the connection.
func senderMismatch(conn net.Conn, bound *string, claimed string) bool {
	if *bound != "" && *bound != claimed {
		connectionmanager.SendErrorMessage(conn, defs.CodeUnknownSender, "Node ID mismatch")
		return true
	}
	return false
}
