// Package sbi terminates the Service-Based Interface: HTTP/1.1 requests are
// classified into service/operation tuples and handed to the orchestrator.
package sbi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

// MaxBodyBytes bounds SBI request bodies; 4 KiB covers every modeled
// operation.
const MaxBodyBytes = 4 << 10

// MessageHandler is implemented by the orchestrator.
type MessageHandler interface {
	HandleSBI(ctx context.Context, msg *message.SBIMessage) Outcome
	AMFState() string
}

// Server is the SBI HTTP server.
type Server struct {
	handler       MessageHandler
	compatRouting bool
	httpServer    *http.Server
	logger        *zap.Logger

	// Optional extra surfaces mounted on the same listener.
	metricsHandler http.Handler
	streamHandler  http.Handler
}

// NewServer creates the SBI server. compatRouting restores the legacy
// forgiving classification of unknown paths.
func NewServer(handler MessageHandler, compatRouting bool, logger *zap.Logger) *Server {
	return &Server{
		handler:       handler,
		compatRouting: compatRouting,
		logger:        logger,
	}
}

// MountMetrics serves the Prometheus endpoint on /metrics.
func (s *Server) MountMetrics(h http.Handler) { s.metricsHandler = h }

// MountStream serves the operational websocket stream on /ops/stream.
func (s *Server) MountStream(h http.Handler) { s.streamHandler = h }

// Router builds the chi router. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/namf-comm/v1/ue-contexts", func(r chi.Router) {
		r.Post("/", s.serve)
		r.Put("/{ueContextId}", s.serve)
		r.Delete("/{ueContextId}", s.serve)
	})

	r.Post("/nausf-auth/v1/authentications", s.serve)

	r.Route("/nsmf-pdusession/v1", func(r chi.Router) {
		r.Post("/sm-contexts", s.serve)
		r.Delete("/sm-contexts/{smContextRef}", s.serve)
		r.Post("/pdu-sessions", s.serve)
		r.Delete("/pdu-sessions/{pduSessionRef}", s.serve)
	})

	r.Post("/npcf-am-policy/v1/policies", s.serve)

	r.Route("/nnrf-nfm/v1/nf-instances", func(r chi.Router) {
		r.Put("/{nfInstanceId}", s.serve)
		r.Patch("/{nfInstanceId}", s.serve)
		r.Delete("/{nfInstanceId}", s.serve)
	})

	r.Get("/nnrf-disc/v1/nf-instances", s.serve)

	if s.metricsHandler != nil {
		r.Get("/metrics", s.metricsHandler.ServeHTTP)
	}
	if s.streamHandler != nil {
		r.Get("/ops/stream", s.streamHandler.ServeHTTP)
	}

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.notFound)

	return r
}

// serve handles a request on a known route.
func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	svc, op, _ := Classify(r.Method, r.URL.Path)
	s.process(w, r, svc, op)
}

// notFound implements the strict/compat split for unknown paths.
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	svc, op, known := Classify(r.Method, r.URL.Path)
	if !known && !s.compatRouting {
		msg := s.decode(r, svc, op)
		writeResponse(w, msg, Outcome{
			Status:   http.StatusNotFound,
			AMFState: s.handler.AMFState(),
			Reason:   "unknown route",
		})
		return
	}
	// Forgiving mode: unknown paths classify as namf-comm UeContextCreate,
	// legacy registration aliases keep their historical mapping.
	s.process(w, r, svc, op)
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, svc message.ServiceType, op message.OperationType) {
	msg := s.decode(r, svc, op)
	if msg.Body == nil && r.ContentLength != 0 {
		writeResponse(w, msg, Outcome{
			Status:   http.StatusBadRequest,
			AMFState: s.handler.AMFState(),
			Reason:   "malformed request body",
		})
		return
	}

	out := s.handler.HandleSBI(r.Context(), msg)
	if out.AMFState == "" {
		out.AMFState = s.handler.AMFState()
	}
	writeResponse(w, msg, out)
}

func (s *Server) decode(r *http.Request, svc message.ServiceType, op message.OperationType) *message.SBIMessage {
	msg := &message.SBIMessage{
		RequestID:   uuid.NewString(),
		ServiceType: svc,
		Operation:   op,
		Method:      r.Method,
		URI:         r.URL.RequestURI(),
		Headers:     r.Header,
		Timestamp:   time.Now(),
	}

	if r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
		if err != nil {
			s.logger.Warn("failed to read SBI request body",
				zap.String("uri", msg.URI),
				zap.Error(err),
			)
			return msg
		}
		msg.Body = body
	}
	return msg
}

// Start binds the SBI listener. Read and write timeouts harden the
// per-connection path; expiry surfaces as a 408 via the timeout middleware.
func (s *Server) Start(bindAddr string, port int) error {
	addr := fmt.Sprintf("%s:%d", bindAddr, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	// Give the listener a beat to fail fast on bind errors.
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("SBI server failed to start: %w", err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	s.logger.Info("SBI server listening", zap.String("addr", addr))
	return nil
}

// Shutdown drains in-flight connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.logger.Info("SBI server stopped")
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("SBI request completed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
