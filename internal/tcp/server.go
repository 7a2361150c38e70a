package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/tcp/connectionmanager"
	"gitlab.com/encodefarm.net/internal/tcp/defs"
)

// TCPServer accepts framed connections and routes each message to the
// handler registered for its type. Master and worker run one each.
type TCPServer struct {
	address       string
	idleTimeout   time.Duration
	logger        primary.Logger
	listener      net.Listener
	connectionMgr *connectionmanager.ConnectionManager
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	handlers      map[byte]primary.MessageHandler
}

// TCPServerOption configures a TCPServer
type TCPServerOption func(*TCPServer)

// WithAddress sets the server address
func WithAddress(address string) TCPServerOption {
	return func(s *TCPServer) {
		s.address = address
	}
}

// WithListener serves on an existing listener instead of opening one
func WithListener(l net.Listener) TCPServerOption {
	return func(s *TCPServer) {
		s.listener = l
	}
}

// WithIdleTimeout bounds how long a connection may sit between messages
func WithIdleTimeout(d time.Duration) TCPServerOption {
	return func(s *TCPServer) {
		s.idleTimeout = d
	}
}

// NewTCPServer creates a new TCP server
func NewTCPServer(handlers map[byte]primary.MessageHandler, logger primary.Logger, options ...TCPServerOption) *TCPServer {
	server := &TCPServer{
		address:       ":1337", // Default address
		idleTimeout:   defs.IdleConnectionTimeout,
		logger:        logger,
		connectionMgr: connectionmanager.NewConnectionManager(logger),
		stopCh:        make(chan struct{}),
		handlers:      handlers,
	}

	// Apply options
	for _, option := range options {
		option(server)
	}

	return server
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	if s.listener == nil {
		l, err := net.Listen("tcp", s.address)
		if err != nil {
			return fmt.Errorf("failed to start TCP server: %w", err)
		}
		s.listener = l
	}

	s.logger.Info("TCP server listening", "address", s.listener.Addr().String())

	// Accept connections in a goroutine
	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Addr returns the bound address once started
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines or ctx, whichever comes first.
func (s *TCPServer) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				s.logger.Error("Failed to close listener", "error", err)
			}
		}
		s.connectionMgr.CloseAll()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acceptConnections accepts incoming connections
func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Error("Failed to accept connection", "error", err)
				time.Sleep(defs.ConnectionRetryDelay) // Avoid tight loop on error
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection serves one peer until it hangs up. Protocol errors are
// answered in-band; only I/O failures and handler panics end the connection.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.connectionMgr.Track(conn)
	defer s.connectionMgr.Untrack(conn)

	var nodeID string
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		msgType, payload, err := connectionmanager.ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("Connection closed", "remote", conn.RemoteAddr().String(), "nodeID", nodeID, "error", err)
			}
			return
		}

		handler, exists := s.handlers[msgType]
		if !exists {
			s.logger.Warn("Unknown message type", "type", msgType, "remote", conn.RemoteAddr().String())
			connectionmanager.SendErrorMessage(conn, defs.CodeUnknownMessage, fmt.Sprintf("Unknown message type: %d", msgType))
			continue
		}

		bound := nodeID
		if err := s.dispatch(handler, conn, msgType, payload, &nodeID); err != nil {
			s.logger.Error("Error handling message", "type", defs.MsgName(msgType), "nodeID", nodeID, "error", err)
			return
		}
		if nodeID != bound {
			s.connectionMgr.Bind(conn, nodeID)
		}
	}
}

// dispatch runs one handler and turns a panic into an error so the
// listener survives it.
func (s *TCPServer) dispatch(handler primary.MessageHandler, conn net.Conn, msgType byte, payload []byte, nodeID *string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			connectionmanager.SendErrorMessage(conn, defs.CodeInternal, "internal error")
			err = fmt.Errorf("handler for %s panicked: %v", defs.MsgName(msgType), r)
		}
	}()
	return handler.HandleMessage(context.Background(), conn, payload, nodeID)
}
