// Package server runs the echo server loop over a transport.Binding: a
// strictly serial accept-exchange-close loop for TCP and a stateless
// receive-reply loop for UDP.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-echo/echo"
	"github.com/cyberinferno/go-echo/logger"
	"github.com/cyberinferno/go-echo/transport"
)

// TransformFunc turns a received message into the reply.
type TransformFunc func(msg []byte) []byte

// Config holds server settings.
type Config struct {
	// Name is used in log messages.
	Name string
	// Binding describes the socket to bind.
	Binding transport.Config
	// Transform computes replies. Defaults to echo.Transform.
	Transform TransformFunc
}

// Stats counts what the server has handled since it started.
type Stats struct {
	Exchanges uint64 // messages answered
	Empty     uint64 // TCP sessions closed without a message
	Failures  uint64 // exchanges that failed on receive or send
}

// EchoServer answers every message with its transform. It serves one
// exchange at a time; a slow peer delays everyone behind it.
type EchoServer struct {
	cfg     Config
	logger  logger.Logger
	binding *transport.Binding
	mu      sync.Mutex

	exchanges atomic.Uint64
	empty     atomic.Uint64
	failures  atomic.Uint64
}

// New creates an EchoServer. Call Bind, then Serve.
func New(cfg Config, log logger.Logger) *EchoServer {
	if cfg.Transform == nil {
		cfg.Transform = echo.Transform
	}

	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("echo-%s", cfg.Binding.Mode)
	}

	if log == nil {
		log = logger.Nop()
	}

	return &EchoServer{
		cfg:    cfg,
		logger: log.With(logger.Field{Key: "server", Value: cfg.Name}),
	}
}

// Bind acquires the server socket. A port held by another socket fails with
// an error wrapping transport.ErrAddressInUse; callers should treat any Bind
// error as fatal.
//
// Parameters:
//   - ctx: Context bounding the bind call
//
// Returns:
//   - An error if the server is already bound or the socket cannot be bound
func (s *EchoServer) Bind(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.binding != nil {
		return fmt.Errorf("server %s already bound", s.cfg.Name)
	}

	b, err := transport.Bind(ctx, s.cfg.Binding)
	if err != nil {
		s.logger.Error("server failed to bind", logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("server %s failed to bind: %w", s.cfg.Name, err)
	}

	s.binding = b
	s.logger.Info(fmt.Sprintf("%s server bound", s.cfg.Name), logger.Field{Key: "addr", Value: b.LocalEndpoint().String()})
	return nil
}

// LocalEndpoint returns the bound endpoint, with the OS-assigned port when
// port 0 was requested. It is the zero Endpoint before Bind.
func (s *EchoServer) LocalEndpoint() transport.Endpoint {
	b := s.currentBinding()
	if b == nil {
		return transport.Endpoint{}
	}

	return b.LocalEndpoint()
}

// Serve runs the server loop until ctx is done or the binding is closed. It
// binds first if Bind has not been called. When ctx is done the binding is
// closed, which unblocks the pending accept or receive, and Serve returns nil.
//
// Parameters:
//   - ctx: Cancels the loop; the socket is released before Serve returns
//
// Returns:
//   - nil after cancellation or Close, or the bind error
func (s *EchoServer) Serve(ctx context.Context) error {
	if s.currentBinding() == nil {
		if err := s.Bind(ctx); err != nil {
			return err
		}
	}

	b := s.currentBinding()
	defer func() {
		_ = b.Close()
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = b.Close()
	})
	defer stop()

	s.logger.Info(fmt.Sprintf("%s server listening", s.cfg.Name), logger.Field{Key: "addr", Value: b.LocalEndpoint().String()})
	defer s.logger.Info(fmt.Sprintf("%s server stopped", s.cfg.Name))

	switch b.Mode() {
	case transport.TCP:
		s.serveTCP(b)
	case transport.UDP:
		s.serveUDP(b)
	}

	return nil
}

// Close releases the socket, ending a running Serve. Safe to call when the
// server is not bound.
func (s *EchoServer) Close() error {
	b := s.currentBinding()
	if b == nil {
		return nil
	}

	return b.Close()
}

// Stats returns a snapshot of the server's counters.
func (s *EchoServer) Stats() Stats {
	return Stats{
		Exchanges: s.exchanges.Load(),
		Empty:     s.empty.Load(),
		Failures:  s.failures.Load(),
	}
}

func (s *EchoServer) currentBinding() *transport.Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding
}

// closed reports whether err means the binding was shut down.
func closed(b *transport.Binding, err error) bool {
	return errors.Is(err, transport.ErrClosed) || b.State() == transport.Closed
}
