package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Exchanger sends one message to the server and waits for its reply.
type Exchanger interface {
	// Exchange sends msg and blocks until the reply arrives, ctx is done or
	// a configured timeout expires.
	//
	// Parameters:
	//   - ctx: Cancels the exchange when done
	//   - msg: The message to send; may be empty
	//
	// Returns:
	//   - The reply bytes, or an error (see IsRecoverable)
	Exchange(ctx context.Context, msg []byte) ([]byte, error)

	// Close releases any socket held between exchanges.
	Close() error
}

// NewExchanger returns the Exchanger for cfg.Mode.
func NewExchanger(cfg ClientConfig) (Exchanger, error) {
	switch cfg.Mode {
	case TCP:
		return &tcpExchanger{cfg: cfg}, nil
	case UDP:
		return &udpExchanger{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("exchanger for %s: %w", cfg.Mode, ErrWrongMode)
	}
}

// tcpExchanger opens a fresh connection for every exchange.
type tcpExchanger struct {
	cfg ClientConfig
}

func (e *tcpExchanger) Exchange(ctx context.Context, msg []byte) ([]byte, error) {
	if len(msg) > e.cfg.bufferSize() {
		return nil, fmt.Errorf("%d bytes: %w", len(msg), ErrMessageTooLarge)
	}

	dialer := net.Dialer{Timeout: e.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.cfg.Server.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("connect %s: %w", e.cfg.Server, classify(err))
	}

	defer func() {
		_ = conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	reply, err := e.roundTrip(conn, msg)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return reply, err
}

func (e *tcpExchanger) roundTrip(conn net.Conn, msg []byte) ([]byte, error) {
	if e.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
	}

	if len(msg) > 0 {
		if _, err := conn.Write(msg); err != nil {
			return nil, fmt.Errorf("send to %s: %w", e.cfg.Server, classify(err))
		}
	}

	// Half-close so the server sees the end of the message, and sees an
	// empty message as a close without data.
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return nil, fmt.Errorf("send to %s: %w", e.cfg.Server, classify(err))
		}
	}

	if e.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(e.cfg.ReadTimeout))
	}

	buf := make([]byte, e.cfg.bufferSize())
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("receive from %s: %w", e.cfg.Server, ErrNoReply)
	}

	return nil, fmt.Errorf("receive from %s: %w", e.cfg.Server, classify(err))
}

func (e *tcpExchanger) Close() error {
	return nil
}

// udpExchanger reuses one datagram socket for the process lifetime.
type udpExchanger struct {
	cfg ClientConfig
	// exchangeMu serializes exchanges so replies are not read by the wrong caller.
	exchangeMu sync.Mutex

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

func (e *udpExchanger) Exchange(ctx context.Context, msg []byte) ([]byte, error) {
	if len(msg) > e.cfg.bufferSize() {
		return nil, fmt.Errorf("%d bytes: %w", len(msg), ErrMessageTooLarge)
	}

	e.exchangeMu.Lock()
	defer e.exchangeMu.Unlock()

	conn, err := e.socket()
	if err != nil {
		return nil, err
	}

	// Clear deadlines left behind by a previous exchange.
	_ = conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	reply, err := e.roundTrip(conn, msg)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return reply, err
}

func (e *udpExchanger) roundTrip(conn *net.UDPConn, msg []byte) ([]byte, error) {
	server := e.cfg.Server
	if e.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(e.cfg.WriteTimeout))
	}

	if _, err := conn.WriteToUDPAddrPort(msg, server.AddrPort()); err != nil {
		return nil, fmt.Errorf("send to %s: %w", server, classify(err))
	}

	if e.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(e.cfg.ReadTimeout))
	}

	buf := make([]byte, e.cfg.bufferSize())
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return nil, fmt.Errorf("receive from %s: %w", server, classify(err))
		}

		// Datagrams from anyone but the server are not replies.
		sender := endpointFromAddrPort(from)
		if sender.Port != server.Port || (!server.IsWildcard() && sender.Addr != server.Addr) {
			continue
		}

		reply := make([]byte, n)
		copy(reply, buf[:n])
		return reply, nil
	}
}

// socket returns the shared datagram socket, creating it on first use.
func (e *udpExchanger) socket() (*net.UDPConn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	if e.conn != nil {
		return e.conn, nil
	}

	network := "udp"
	if e.cfg.Server.Addr.Is4() {
		network = "udp4"
	}

	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", classify(err))
	}

	e.conn = conn
	return conn, nil
}

// Close releases the socket; an exchange blocked on it returns ErrClosed.
func (e *udpExchanger) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	if e.conn == nil {
		return nil
	}

	err := e.conn.Close()
	e.conn = nil
	return err
}
