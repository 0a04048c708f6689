package server

import (
	"context"
	"fmt"
	"io"
	"net/netip"

	"github.com/cyberinferno/go-echo/logger"
	"github.com/cyberinferno/go-echo/transport"
)

// Banner is the startup information shown to the operator.
type Banner struct {
	IP       netip.Addr
	Hostname string
	Port     uint16
	Mode     transport.Mode
}

// WriteBanner prints the banner in a fixed, human-readable layout ending with
// the listening line.
func WriteBanner(w io.Writer, b Banner) error {
	ip := "unknown"
	if b.IP.IsValid() {
		ip = b.IP.String()
	}

	hostname := b.Hostname
	if hostname == "" {
		hostname = "unknown"
	}

	_, err := fmt.Fprintf(w, "IP:        %s\nHostname:  %s\nPort:      %d\nMode:      %s\nPress Ctrl+C to quit. Listening...\n",
		ip, hostname, b.Port, b.Mode)
	return err
}

// AddressSource supplies the address and host name a server announces.
// *resolver.Resolver implements it.
type AddressSource interface {
	OutboundIP(ctx context.Context) (netip.Addr, error)
	Hostname() (string, error)
}

// Announce builds the banner for the bound server. A server bound to a
// specific address announces that address; a wildcard bind announces the
// outbound address from src, or whatever fallback src returns with its error.
//
// Parameters:
//   - ctx: Bounds the outbound address lookup
//   - src: Resolves the outbound address and host name
//
// Returns:
//   - The Banner; missing values are left zero and print as unknown
func (s *EchoServer) Announce(ctx context.Context, src AddressSource) Banner {
	ep := s.LocalEndpoint()
	b := Banner{Port: ep.Port, Mode: s.cfg.Binding.Mode}

	if ep.IsWildcard() {
		ip, err := src.OutboundIP(ctx)
		if err != nil {
			s.logger.Warn("announcing fallback address", logger.Field{Key: "error", Value: err.Error()})
		}
		b.IP = ip
	} else {
		b.IP = ep.Addr
	}

	if name, err := src.Hostname(); err == nil {
		b.Hostname = name
	}

	return b
}
