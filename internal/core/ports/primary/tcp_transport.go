package primary

import (
	"context"
	"net"
)

// MessageHandler handles one inbound message type. nodeID is bound to the
// connection once the sender has identified itself. A returned error means
// the connection is unusable; protocol errors are answered in-band and
// return nil.
type MessageHandler interface {
	HandleMessage(ctx context.Context, conn net.Conn, payload []byte, nodeID *string) error
}
