// Package resolver discovers the addresses a server announces at startup:
// the host's outward-facing IP, its hostname, and free ports.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/cyberinferno/go-echo/logger"
	"github.com/cyberinferno/go-echo/transport"
)

// ErrUnresolvable is returned together with the fallback address when the
// outward-facing IP cannot be determined.
var ErrUnresolvable = errors.New("outbound address unresolvable")

const (
	DefaultProbeAddr = "8.8.8.8:80"
	DefaultTTL       = 5 * time.Minute
)

// DefaultFallback is returned when no route to the probe address exists.
var DefaultFallback = netip.MustParseAddr("127.0.0.1")

// Config holds resolver settings.
type Config struct {
	// ProbeAddr is the external host:port used to select the outbound
	// interface. No packet is ever sent to it.
	ProbeAddr string
	// Fallback is returned when the outbound address cannot be determined.
	Fallback netip.Addr
	// TTL is how long a resolved address stays cached.
	TTL time.Duration
}

// DefaultConfig returns a Config probing 8.8.8.8:80 with a loopback fallback.
func DefaultConfig() Config {
	return Config{
		ProbeAddr: DefaultProbeAddr,
		Fallback:  DefaultFallback,
		TTL:       DefaultTTL,
	}
}

// Resolver looks up the addresses a server announces. It is safe for
// concurrent use.
type Resolver struct {
	cfg    Config
	cache  AddressCache
	logger logger.Logger
}

// New creates a Resolver. A nil cache disables caching; a nil logger discards.
func New(cfg Config, cache AddressCache, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}

	if !cfg.Fallback.IsValid() {
		cfg.Fallback = DefaultFallback
	}

	if cfg.ProbeAddr == "" {
		cfg.ProbeAddr = DefaultProbeAddr
	}

	return &Resolver{cfg: cfg, cache: cache, logger: log}
}

// OutboundIP returns the local IPv4 address the OS would use to reach the
// probe address. It "connects" a UDP socket, which selects a route without
// sending anything, and reads the socket's local address.
//
// Parameters:
//   - ctx: Context bounding the lookup
//
// Returns:
//   - The outbound address, or the fallback address together with an error
//     wrapping ErrUnresolvable. Callers may continue with the fallback.
func (r *Resolver) OutboundIP(ctx context.Context) (netip.Addr, error) {
	lookup := func(ctx context.Context) (string, error) {
		addr, err := r.probe(ctx)
		if err != nil {
			return "", err
		}

		return addr.String(), nil
	}

	var (
		value string
		err   error
	)
	if r.cache != nil {
		value, err = r.cache.GetOrLookup(ctx, "outbound:"+r.cfg.ProbeAddr, r.cfg.TTL, lookup)
		if errors.Is(err, ErrCacheUnavailable) {
			r.logger.Warn("address cache unavailable, probing directly", logger.Field{Key: "error", Value: err.Error()})
			value, err = lookup(ctx)
		}
	} else {
		value, err = lookup(ctx)
	}

	if err == nil {
		addr, perr := netip.ParseAddr(value)
		if perr == nil {
			return addr, nil
		}

		err = perr
	}

	r.logger.Warn("outbound address unresolvable, using fallback",
		logger.Field{Key: "probe", Value: r.cfg.ProbeAddr},
		logger.Field{Key: "fallback", Value: r.cfg.Fallback.String()},
		logger.Field{Key: "error", Value: err.Error()},
	)

	return r.cfg.Fallback, fmt.Errorf("%w: %w", ErrUnresolvable, err)
}

func (r *Resolver) probe(ctx context.Context) (netip.Addr, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", r.cfg.ProbeAddr)
	if err != nil {
		return netip.Addr{}, err
	}

	defer func() {
		_ = conn.Close()
	}()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}

	addr := local.AddrPort().Addr().Unmap()
	if !addr.IsValid() || addr.IsUnspecified() {
		return netip.Addr{}, fmt.Errorf("no route to %s", r.cfg.ProbeAddr)
	}

	return addr, nil
}

// Hostname returns the host name reported by the kernel.
func (r *Resolver) Hostname() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("hostname: %w", err)
	}

	return name, nil
}

// AvailablePort asks the OS for an ephemeral port in the given mode and
// releases it again. Another process may take the port before the caller
// binds it.
func AvailablePort(ctx context.Context, mode transport.Mode) (uint16, error) {
	b, err := transport.Bind(ctx, transport.DefaultConfig(mode, 0))
	if err != nil {
		return 0, err
	}

	port := b.LocalEndpoint().Port
	if err := b.Close(); err != nil {
		return 0, err
	}

	return port, nil
}
