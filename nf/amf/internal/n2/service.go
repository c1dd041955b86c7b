// Package n2 is the NGAP adapter stub: a TCP server speaking an
// implementation-defined text format in place of NGAP over SCTP.
package n2

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

// Handler processes one incoming N2 message.
type Handler func(msg *message.N2Message)

// Service terminates N2 connections from RAN nodes and dispatches decoded
// messages to handlers registered by the orchestrator.
type Service struct {
	mu       sync.RWMutex
	handlers map[message.N2MessageType]Handler
	conns    map[string]net.Conn // RAN node id -> connection
	outbound func(msg *message.N2Message)

	listener net.Listener
	shutdown atomic.Bool
	wg       sync.WaitGroup

	sent     atomic.Uint64
	received atomic.Uint64

	logger *zap.Logger
}

// NewService creates the N2 adapter.
func NewService(logger *zap.Logger) *Service {
	return &Service{
		handlers: make(map[message.N2MessageType]Handler),
		conns:    make(map[string]net.Conn),
		logger:   logger,
	}
}

// RegisterHandler registers the handler for a message type.
func (s *Service) RegisterHandler(t message.N2MessageType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

// SetOutbound installs a fallback sink used when the target RAN node has no
// live connection (in-process peers and tests).
func (s *Service) SetOutbound(fn func(msg *message.N2Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound = fn
}

// Start binds the N2 listener and runs the accept loop. The loop polls with
// a one second timeout so it can observe shutdown.
func (s *Service) Start(bindAddr string, port int) error {
	addr := fmt.Sprintf("%s:%d", bindAddr, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind N2 listener: %w", err)
	}
	s.listener = listener

	s.logger.Info("N2 service listening", zap.String("addr", addr))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Service) acceptLoop() {
	defer s.wg.Done()

	tcpListener, _ := s.listener.(*net.TCPListener)
	for !s.shutdown.Load() {
		if tcpListener != nil {
			tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.shutdown.Load() {
				return
			}
			s.logger.Error("N2 accept failed", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Service) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	var ranNodeID string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if s.shutdown.Load() {
			return
		}

		msg, err := Decode(scanner.Text())
		if err != nil {
			s.logger.Warn("dropping malformed N2 message",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Error(err),
			)
			continue
		}

		// First message on a connection binds it to its RAN node.
		if ranNodeID == "" && msg.RANNodeID != "" {
			ranNodeID = msg.RANNodeID
			s.mu.Lock()
			s.conns[ranNodeID] = conn
			s.mu.Unlock()
		}

		s.dispatch(msg)
	}

	if ranNodeID != "" {
		s.mu.Lock()
		if s.conns[ranNodeID] == conn {
			delete(s.conns, ranNodeID)
		}
		s.mu.Unlock()
	}
}

func (s *Service) dispatch(msg *message.N2Message) {
	s.mu.RLock()
	h, ok := s.handlers[msg.Type]
	s.mu.RUnlock()

	if !ok {
		s.logger.Warn("no handler for N2 message type",
			zap.Int("type", int(msg.Type)),
			zap.String("ran_node_id", msg.RANNodeID),
		)
		return
	}

	s.received.Add(1)
	h(msg)
}

// HandleIncoming feeds a message into the adapter as if it arrived on the
// wire. Used by in-process peers and tests.
func (s *Service) HandleIncoming(msg *message.N2Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.dispatch(msg)
}

// Send delivers an outgoing N2 message to the RAN node's connection, or to
// the outbound sink when the node is not connected. The sent counter is only
// bumped on success.
func (s *Service) Send(msg *message.N2Message) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.RLock()
	conn := s.conns[msg.RANNodeID]
	out := s.outbound
	s.mu.RUnlock()

	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if _, err := conn.Write([]byte(Encode(msg) + "\n")); err != nil {
			s.logger.Error("N2 send failed",
				zap.String("ran_node_id", msg.RANNodeID),
				zap.Error(err),
			)
			return false
		}
		s.sent.Add(1)
		return true
	}

	if out != nil {
		out(msg)
		s.sent.Add(1)
		return true
	}

	s.logger.Debug("N2 message dropped, RAN node not connected",
		zap.String("ran_node_id", msg.RANNodeID),
		zap.Int("type", int(msg.Type)),
	)
	return false
}

// Sent returns the number of N2 messages sent.
func (s *Service) Sent() uint64 { return s.sent.Load() }

// Received returns the number of N2 messages received.
func (s *Service) Received() uint64 { return s.received.Load() }

// Shutdown stops the accept loop and closes every connection. In-flight
// reads fail when their sockets close.
func (s *Service) Shutdown() {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for id, conn := range s.conns {
		conn.Close()
		delete(s.conns, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("N2 service stopped")
}
