// Package n1 is the NAS adapter. There is no wire port: N1 messages are
// synthesized in-process from SBI and N2 inputs and dispatched through a
// handler table registered by the orchestrator.
package n1

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

// Handler processes one incoming N1 message.
type Handler func(msg *message.N1Message)

// Service dispatches N1 NAS messages.
type Service struct {
	mu       sync.RWMutex
	handlers map[message.N1MessageType]Handler
	outbound func(msg *message.N1Message)

	sent     atomic.Uint64
	received atomic.Uint64

	logger *zap.Logger
}

// NewService creates the N1 adapter.
func NewService(logger *zap.Logger) *Service {
	return &Service{
		handlers: make(map[message.N1MessageType]Handler),
		logger:   logger,
	}
}

// RegisterHandler registers the handler for a message type.
func (s *Service) RegisterHandler(t message.N1MessageType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

// SetOutbound installs the downstream sink for outgoing NAS messages.
func (s *Service) SetOutbound(fn func(msg *message.N1Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound = fn
}

// HandleIncoming dispatches an incoming NAS message. Unknown types are
// logged and dropped.
func (s *Service) HandleIncoming(msg *message.N1Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.RLock()
	h, ok := s.handlers[msg.Type]
	s.mu.RUnlock()

	if !ok {
		s.logger.Warn("no handler for N1 message type",
			zap.Int("type", int(msg.Type)),
			zap.String("ue_id", msg.UEID),
		)
		return
	}

	s.received.Add(1)
	h(msg)
}

// Send delivers an outgoing NAS message and reports success. The sent
// counter is only bumped on success.
func (s *Service) Send(msg *message.N1Message) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.RLock()
	out := s.outbound
	s.mu.RUnlock()

	if out == nil {
		s.logger.Debug("N1 outbound sink not set, message dropped",
			zap.Int("type", int(msg.Type)),
			zap.String("ue_id", msg.UEID),
		)
		return false
	}

	out(msg)
	s.sent.Add(1)
	return true
}

// Sent returns the number of NAS messages sent.
func (s *Service) Sent() uint64 { return s.sent.Load() }

// Received returns the number of NAS messages received.
func (s *Service) Received() uint64 { return s.received.Load() }
