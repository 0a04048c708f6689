package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
)

// Session is one accepted TCP connection. It carries exactly one exchange:
// Receive, optionally Send, then Close.
type Session struct {
	id         uint32
	conn       net.Conn
	local      Endpoint
	peer       Endpoint
	bufferSize int
	closed     atomic.Bool
}

func newSession(id uint32, conn net.Conn, bufferSize int) *Session {
	return &Session{
		id:         id,
		conn:       conn,
		local:      endpointFromAddr(conn.LocalAddr()),
		peer:       endpointFromAddr(conn.RemoteAddr()),
		bufferSize: bufferSize,
	}
}

// ID returns the session's identifier, unique within its Binding.
func (s *Session) ID() uint32 {
	return s.id
}

// Local returns the server side of the connection.
func (s *Session) Local() Endpoint {
	return s.local
}

// Peer returns the client side of the connection.
func (s *Session) Peer() Endpoint {
	return s.peer
}

// Receive performs a single read of at most the binding's buffer size and
// returns what arrived. A peer that closes without sending yields
// ErrEmptyMessage; a session closed while blocked yields ErrClosed.
func (s *Session) Receive() ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	buf := make([]byte, s.bufferSize)
	n, err := s.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}

	if s.closed.Load() {
		return nil, ErrClosed
	}

	if err == nil || errors.Is(err, io.EOF) {
		return nil, ErrEmptyMessage
	}

	return nil, fmt.Errorf("receive from %s: %w", s.peer, classify(err))
}

// Send writes msg to the peer. It fails once the session is closed.
func (s *Session) Send(msg []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if _, err := s.conn.Write(msg); err != nil {
		return fmt.Errorf("send to %s: %w", s.peer, classify(err))
	}

	return nil
}

// Close releases the connection. It is safe to call multiple times.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	return s.conn.Close()
}
