package connectionmanager

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

// ConnectionManager tracks open inbound connections so they can be closed
// on shutdown
type ConnectionManager struct {
	Connections map[string]net.Conn // remote address -> conn
	ConnNodes   map[string]string   // remote address -> node id
	ConnMutex   sync.RWMutex
	Logger      primary.Logger
}

// RemoteError is an error frame received from the peer
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(logger primary.Logger) *ConnectionManager {
	return &ConnectionManager{
		Connections: make(map[string]net.Conn),
		ConnNodes:   make(map[string]string),
		Logger:      logger,
	}
}

// Track registers an accepted connection
func (cm *ConnectionManager) Track(conn net.Conn) {
	cm.ConnMutex.Lock()
	cm.Connections[conn.RemoteAddr().String()] = conn
	cm.ConnMutex.Unlock()
}

// Bind records which node speaks on conn
func (cm *ConnectionManager) Bind(conn net.Conn, nodeID string) {
	cm.ConnMutex.Lock()
	cm.ConnNodes[conn.RemoteAddr().String()] = nodeID
	cm.ConnMutex.Unlock()
}

// Untrack forgets a connection once it is closed
func (cm *ConnectionManager) Untrack(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	cm.ConnMutex.Lock()
	delete(cm.Connections, addr)
	delete(cm.ConnNodes, addr)
	cm.ConnMutex.Unlock()
}

// Count returns the number of open connections
func (cm *ConnectionManager) Count() int {
	cm.ConnMutex.RLock()
	defer cm.ConnMutex.RUnlock()
	return len(cm.Connections)
}

// CloseAll closes every tracked connection
func (cm *ConnectionManager) CloseAll() {
	cm.ConnMutex.Lock()
	defer cm.ConnMutex.Unlock()

	for addr, conn := range cm.Connections {
		if err := conn.Close(); err != nil {
			cm.Logger.Error("Failed to close connection", "remote", addr, "nodeID", cm.ConnNodes[addr], "error", err)
		}
	}
}

// SendErrorMessage sends an error frame to the peer
func SendErrorMessage(conn net.Conn, code int, message string) {
	// Ignore errors here as the connection might be closing
	_ = SendJSON(conn, defs.MsgError, defs.ErrorData{Code: code, Message: message})
}

// SendAck sends an acknowledgement frame
func SendAck(conn net.Conn, status int, message string) error {
	return SendJSON(conn, defs.MsgAck, defs.AckData{Status: status, Message: message})
}

// SendJSON marshals v and sends it as one frame
func SendJSON(conn net.Conn, msgType byte, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", defs.MsgName(msgType), err)
	}
	return SendMessage(conn, msgType, payload)
}

// SendMessage writes one frame: magic, type, reserved byte, length, payload
func SendMessage(conn net.Conn, msgType byte, payload []byte) error {
	frame := make([]byte, defs.HeaderSize+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], defs.MagicNumber)
	frame[2] = msgType
	frame[3] = 0 // Reserved
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[defs.HeaderSize:], payload)

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", defs.MsgName(msgType), err)
	}
	return nil
}

// ReadMessage reads one frame from r
func ReadMessage(r io.Reader) (byte, []byte, error) {
	header := make([]byte, defs.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	magic := binary.BigEndian.Uint16(header[0:2])
	msgType := header[2]
	payloadLen := binary.BigEndian.Uint32(header[4:8])

	if magic != defs.MagicNumber {
		return 0, nil, fmt.Errorf("invalid magic number: %x", magic)
	}
	if payloadLen > defs.MaxPayload {
		return 0, nil, fmt.Errorf("payload too large: %d bytes", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}

// Call dials addr, sends one request and waits for its reply. The whole
// exchange is bounded by ctx; a missing deadline falls back to timeout.
func Call(ctx context.Context, addr string, msgType byte, request interface{}, timeout time.Duration) (byte, []byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if err := SendJSON(conn, msgType, request); err != nil {
		return 0, nil, err
	}
	respType, payload, err := ReadMessage(conn)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read reply to %s: %w", defs.MsgName(msgType), err)
	}
	return respType, payload, nil
}

// Decode checks the reply type and unmarshals it into out. Error frames
// come back as *RemoteError.
func Decode(respType byte, payload []byte, want byte, out interface{}) error {
	if respType == defs.MsgError {
		var e defs.ErrorData
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("failed to parse error frame: %w", err)
		}
		return &RemoteError{Code: e.Code, Message: e.Message}
	}
	if respType != want {
		return fmt.Errorf("unexpected reply %s, want %s", defs.MsgName(respType), defs.MsgName(want))
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", defs.MsgName(want), err)
	}
	return nil
}
