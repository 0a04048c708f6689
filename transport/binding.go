package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Binding.
type State int32

const (
	Unbound   State = iota // No socket yet
	Bound                  // Socket bound to its endpoint
	Listening              // TCP only: ready to accept connections
	Accepting              // TCP only: blocked in Accept
	Serving                // Handling a session (TCP) or datagrams (UDP)
	Closed                 // Socket released; terminal
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Unbound:
		return "Unbound"
	case Bound:
		return "Bound"
	case Listening:
		return "Listening"
	case Accepting:
		return "Accepting"
	case Serving:
		return "Serving"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Binding owns exactly one server socket: a TCP listener or a UDP packet
// connection. It is created by Bind and released by Close, which is safe to
// call from another goroutine to unblock Accept or ReceiveFrom. Close also
// closes the session most recently accepted, unblocking its Receive.
type Binding struct {
	cfg      Config
	state    atomic.Int32
	listener net.Listener
	conn     *net.UDPConn
	buf      []byte

	sessionIDs atomic.Uint32
	mu         sync.Mutex
	active     *Session
	closeOnce  sync.Once
	closeErr   error
}

// Bind creates the socket described by cfg and binds it. For TCP the socket
// is also put into the listening state.
//
// Parameters:
//   - ctx: Context bounding the bind call itself
//   - cfg: Mode, endpoint and buffer configuration
//
// Returns:
//   - The Binding, or an error wrapping ErrAddressInUse when the port is taken
func Bind(ctx context.Context, cfg Config) (*Binding, error) {
	b := &Binding{cfg: cfg}
	var lc net.ListenConfig

	switch cfg.Mode {
	case TCP:
		ln, err := lc.Listen(ctx, "tcp", cfg.Endpoint.String())
		if err != nil {
			return nil, fmt.Errorf("bind tcp %s: %w", cfg.Endpoint, classify(err))
		}

		b.listener = ln
		b.state.Store(int32(Listening))
	case UDP:
		pc, err := lc.ListenPacket(ctx, "udp", cfg.Endpoint.String())
		if err != nil {
			return nil, fmt.Errorf("bind udp %s: %w", cfg.Endpoint, classify(err))
		}

		b.conn = pc.(*net.UDPConn)
		b.buf = make([]byte, cfg.bufferSize())
		b.state.Store(int32(Bound))
	default:
		return nil, fmt.Errorf("bind %s: %w", cfg.Mode, ErrWrongMode)
	}

	return b, nil
}

// Mode returns the binding's transport mode.
func (b *Binding) Mode() Mode {
	return b.cfg.Mode
}

// State returns the current lifecycle state.
func (b *Binding) State() State {
	return State(b.state.Load())
}

// LocalEndpoint returns the endpoint the socket is bound to, with the
// OS-assigned port filled in when port 0 was requested.
func (b *Binding) LocalEndpoint() Endpoint {
	if b.listener != nil {
		return endpointFromAddr(b.listener.Addr())
	}

	if b.conn != nil {
		return endpointFromAddr(b.conn.LocalAddr())
	}

	return Endpoint{}
}

// Accept blocks until a peer connects and returns the session for that
// connection. It never times out; Close unblocks it with ErrClosed.
func (b *Binding) Accept() (*Session, error) {
	if b.cfg.Mode != TCP {
		return nil, fmt.Errorf("accept on %s binding: %w", b.cfg.Mode, ErrWrongMode)
	}

	if !b.transition(Accepting) {
		return nil, ErrClosed
	}

	conn, err := b.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", classify(err))
	}

	if b.cfg.SessionTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(b.cfg.SessionTimeout))
	}

	session := newSession(b.sessionIDs.Add(1), conn, b.cfg.bufferSize())

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.transition(Serving) {
		_ = conn.Close()
		return nil, ErrClosed
	}
	b.active = session

	return session, nil
}

// ReceiveFrom blocks until a datagram arrives and returns its payload and
// sender. Datagrams longer than the read buffer are truncated by the OS.
// The returned slice is owned by the caller.
func (b *Binding) ReceiveFrom() ([]byte, Endpoint, error) {
	if b.cfg.Mode != UDP {
		return nil, Endpoint{}, fmt.Errorf("receiveFrom on %s binding: %w", b.cfg.Mode, ErrWrongMode)
	}

	if !b.transition(Serving) {
		return nil, Endpoint{}, ErrClosed
	}

	n, from, err := b.conn.ReadFromUDPAddrPort(b.buf)
	if err != nil {
		return nil, Endpoint{}, fmt.Errorf("receive: %w", classify(err))
	}

	msg := make([]byte, n)
	copy(msg, b.buf[:n])
	return msg, endpointFromAddrPort(from), nil
}

// SendTo writes one datagram to the given endpoint. Delivery is not
// guaranteed.
func (b *Binding) SendTo(msg []byte, to Endpoint) error {
	if b.cfg.Mode != UDP {
		return fmt.Errorf("sendTo on %s binding: %w", b.cfg.Mode, ErrWrongMode)
	}

	if _, err := b.conn.WriteToUDPAddrPort(msg, to.AddrPort()); err != nil {
		return fmt.Errorf("send to %s: %w", to, classify(err))
	}

	return nil
}

// Close releases the socket. It is safe to call multiple times and from any
// goroutine; later calls return the result of the first.
func (b *Binding) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.state.Store(int32(Closed))
		active := b.active
		b.active = nil
		b.mu.Unlock()

		if active != nil {
			_ = active.Close()
		}

		switch {
		case b.listener != nil:
			b.closeErr = b.listener.Close()
		case b.conn != nil:
			b.closeErr = b.conn.Close()
		}

		if errors.Is(b.closeErr, net.ErrClosed) {
			b.closeErr = nil
		}
	})

	return b.closeErr
}

// transition moves to s unless the binding is already closed.
func (b *Binding) transition(s State) bool {
	for {
		cur := b.state.Load()
		if State(cur) == Closed {
			return false
		}

		if b.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}
