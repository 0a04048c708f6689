// Package transport wraps a single TCP or UDP socket behind the small set of
// operations the echo server and client need: bind, accept, receive, send and
// close on the server side, and one request/reply exchange on the client side.
package transport

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Mode selects the transport a binding or exchanger uses.
type Mode string

const (
	TCP Mode = "tcp" // connection-oriented stream transport
	UDP Mode = "udp" // connectionless datagram transport
)

// ParseMode converts a user-supplied mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case TCP:
		return TCP, nil
	case UDP:
		return UDP, nil
	default:
		return "", fmt.Errorf("unknown transport mode %q (want tcp or udp)", s)
	}
}

// Endpoint identifies one side of a conversation. A zero Addr stands for the
// wildcard address when binding.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// ParseEndpoint builds an Endpoint from a host IP and port. An empty host
// yields the wildcard address.
//
// Parameters:
//   - host: An IPv4 or IPv6 literal, or "" for the wildcard address
//   - port: The port number; 0 asks the OS for an ephemeral port at bind time
//
// Returns:
//   - The Endpoint, or an error if host is not an IP literal
func ParseEndpoint(host string, port uint16) (Endpoint, error) {
	if host == "" {
		return Endpoint{Port: port}, nil
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid IP address %q: %w", host, err)
	}

	return Endpoint{Addr: addr.Unmap(), Port: port}, nil
}

// IsWildcard reports whether the endpoint has no specific address.
func (e Endpoint) IsWildcard() bool {
	return !e.Addr.IsValid() || e.Addr.IsUnspecified()
}

// AddrPort returns the endpoint as a netip.AddrPort.
func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, e.Port)
}

// String formats the endpoint as host:port, or :port for the wildcard address.
func (e Endpoint) String() string {
	if !e.Addr.IsValid() {
		return ":" + strconv.Itoa(int(e.Port))
	}

	return e.AddrPort().String()
}

// endpointFromAddr converts a socket address returned by the net package.
func endpointFromAddr(a net.Addr) Endpoint {
	switch addr := a.(type) {
	case *net.TCPAddr:
		return endpointFromAddrPort(addr.AddrPort())
	case *net.UDPAddr:
		return endpointFromAddrPort(addr.AddrPort())
	default:
		return Endpoint{}
	}
}

func endpointFromAddrPort(ap netip.AddrPort) Endpoint {
	return Endpoint{Addr: ap.Addr().Unmap(), Port: ap.Port()}
}
