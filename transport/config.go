package transport

import "time"

// Receive buffer sizes. One receive call reads one message, so these are
// also the largest messages the protocol carries.
const (
	DefaultTCPBufferSize = 1024
	DefaultUDPBufferSize = 2048
)

// DefaultBufferSize returns the receive buffer size used by the mode when a
// config leaves it at zero.
func (m Mode) DefaultBufferSize() int {
	if m == UDP {
		return DefaultUDPBufferSize
	}

	return DefaultTCPBufferSize
}

// Config describes a server-side binding.
type Config struct {
	// Mode selects TCP or UDP.
	Mode Mode
	// Endpoint is the local address and port to bind. Port 0 requests an
	// ephemeral port; a wildcard address binds every interface.
	Endpoint Endpoint
	// ReadBufferSize bounds a single receive. Zero means the mode default.
	ReadBufferSize int
	// SessionTimeout limits one TCP exchange (receive plus send). Zero means
	// a silent peer may hold the session indefinitely.
	SessionTimeout time.Duration
}

// DefaultConfig returns a Config for mode bound to the wildcard address on port.
func DefaultConfig(mode Mode, port uint16) Config {
	return Config{
		Mode:           mode,
		Endpoint:       Endpoint{Port: port},
		ReadBufferSize: mode.DefaultBufferSize(),
	}
}

func (c Config) bufferSize() int {
	if c.ReadBufferSize > 0 {
		return c.ReadBufferSize
	}

	return c.Mode.DefaultBufferSize()
}

// ClientConfig describes the client side of an exchange.
type ClientConfig struct {
	// Mode selects TCP or UDP.
	Mode Mode
	// Server is the endpoint every message is sent to.
	Server Endpoint
	// ReadBufferSize bounds the reply read and the largest message sent.
	// Zero means the mode default.
	ReadBufferSize int
	// DialTimeout limits the TCP handshake; zero blocks until the OS gives up.
	DialTimeout time.Duration
	// WriteTimeout limits a single send; zero means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout limits the wait for a reply; zero blocks indefinitely.
	ReadTimeout time.Duration
}

// DefaultClientConfig returns a ClientConfig with no timeouts and the mode's
// default buffer size.
func DefaultClientConfig(mode Mode, server Endpoint) ClientConfig {
	return ClientConfig{
		Mode:           mode,
		Server:         server,
		ReadBufferSize: mode.DefaultBufferSize(),
	}
}

// WithTimeout returns a copy of c with every timeout set to d.
func (c ClientConfig) WithTimeout(d time.Duration) ClientConfig {
	c.DialTimeout = d
	c.WriteTimeout = d
	c.ReadTimeout = d
	return c
}

func (c ClientConfig) bufferSize() int {
	if c.ReadBufferSize > 0 {
		return c.ReadBufferSize
	}

	return c.Mode.DefaultBufferSize()
}
