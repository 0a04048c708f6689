// Package config loads echo server and client settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cyberinferno/go-echo/logger"
	"github.com/cyberinferno/go-echo/transport"
)

// Resolver cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// DefaultPort is the port the server announces when none is configured.
const DefaultPort = 12000

// Config holds every setting read from the environment.
type Config struct {
	Mode       string
	Host       string
	Port       int
	TCPBuffer  int
	UDPBuffer  int
	Sentinel   string
	Timeout    time.Duration
	ProbeAddr  string
	FallbackIP string

	// SessionTimeout bounds each accepted TCP session on the server. Zero
	// waits forever.
	SessionTimeout time.Duration

	ResolverCache string
	ResolverTTL   time.Duration
	RedisURL      string

	LogLevel string
	LogDir   string
}

// Load reads .env files (if present) into the process environment without
// overriding variables that are already set, then builds a Config from the
// environment with defaults for anything unset.
//
// Parameters:
//   - files: .env files to read; defaults to ".env"
//
// Returns:
//   - The Config, or an error if a file cannot be parsed or a value has the wrong type
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	c := &Config{}
	loadEnvString(&c.Mode, "ECHO_MODE", string(transport.TCP))
	loadEnvString(&c.Host, "ECHO_HOST", "")
	loadEnvString(&c.Sentinel, "ECHO_SENTINEL", "quit")
	loadEnvString(&c.ProbeAddr, "ECHO_PROBE_ADDR", "8.8.8.8:80")
	loadEnvString(&c.FallbackIP, "ECHO_FALLBACK_IP", "127.0.0.1")
	loadEnvString(&c.ResolverCache, "ECHO_RESOLVER_CACHE", CacheMemory)
	loadEnvString(&c.RedisURL, "REDIS_URL", "redis://localhost:6379/0")
	loadEnvString(&c.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&c.LogDir, "LOG_DIR", "")

	if err := loadEnvInt(&c.Port, "ECHO_PORT", DefaultPort); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&c.TCPBuffer, "ECHO_TCP_BUFFER", transport.DefaultTCPBufferSize); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&c.UDPBuffer, "ECHO_UDP_BUFFER", transport.DefaultUDPBufferSize); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&c.Timeout, "ECHO_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&c.SessionTimeout, "ECHO_SESSION_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&c.ResolverTTL, "ECHO_RESOLVER_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate reports every invalid setting in a single error.
func (c *Config) Validate() error {
	var problems []string

	if _, err := transport.ParseMode(c.Mode); err != nil {
		problems = append(problems, "ECHO_MODE must be tcp or udp")
	}

	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, "ECHO_PORT must be between 0 and 65535")
	}

	if c.Host != "" {
		if _, err := netip.ParseAddr(c.Host); err != nil {
			problems = append(problems, "ECHO_HOST must be an IP address")
		}
	}

	if c.TCPBuffer <= 0 || c.UDPBuffer <= 0 {
		problems = append(problems, "ECHO_TCP_BUFFER and ECHO_UDP_BUFFER must be positive")
	}

	if c.UDPBuffer > 65507 {
		problems = append(problems, "ECHO_UDP_BUFFER must not exceed 65507")
	}

	if c.Timeout < 0 {
		problems = append(problems, "ECHO_TIMEOUT must not be negative")
	}

	if c.SessionTimeout < 0 {
		problems = append(problems, "ECHO_SESSION_TIMEOUT must not be negative")
	}

	if _, err := netip.ParseAddr(c.FallbackIP); err != nil {
		problems = append(problems, "ECHO_FALLBACK_IP must be an IP address")
	}

	if c.ResolverCache != CacheMemory && c.ResolverCache != CacheRedis {
		problems = append(problems, fmt.Sprintf("ECHO_RESOLVER_CACHE must be %s or %s", CacheMemory, CacheRedis))
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, "LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}

	return nil
}

// TransportMode returns the parsed ECHO_MODE.
func (c *Config) TransportMode() (transport.Mode, error) {
	return transport.ParseMode(c.Mode)
}

// Endpoint returns the host and port as a transport.Endpoint.
func (c *Config) Endpoint() (transport.Endpoint, error) {
	if c.Port < 0 || c.Port > 65535 {
		return transport.Endpoint{}, fmt.Errorf("port %d out of range", c.Port)
	}

	return transport.ParseEndpoint(c.Host, uint16(c.Port))
}

// ServerEndpoint returns the endpoint a client sends to. Unlike Endpoint it
// needs a concrete address and a non-zero port.
func (c *Config) ServerEndpoint() (transport.Endpoint, error) {
	if c.Host == "" {
		return transport.Endpoint{}, errors.New("server IP address is required")
	}

	if c.Port < 1 || c.Port > 65535 {
		return transport.Endpoint{}, fmt.Errorf("server port %d out of range 1-65535", c.Port)
	}

	ep, err := transport.ParseEndpoint(c.Host, uint16(c.Port))
	if err != nil {
		return transport.Endpoint{}, err
	}

	if ep.IsWildcard() {
		return transport.Endpoint{}, fmt.Errorf("server IP address %s is unspecified", c.Host)
	}

	return ep, nil
}

// BindingConfig builds the server's transport.Config from the mode, host,
// port, buffer sizes and session timeout.
func (c *Config) BindingConfig() (transport.Config, error) {
	mode, err := c.TransportMode()
	if err != nil {
		return transport.Config{}, err
	}

	ep, err := c.Endpoint()
	if err != nil {
		return transport.Config{}, err
	}

	cfg := transport.DefaultConfig(mode, ep.Port)
	cfg.Endpoint = ep
	cfg.ReadBufferSize = c.BufferSize(mode)
	cfg.SessionTimeout = c.SessionTimeout
	return cfg, nil
}

// ClientConfig builds the client's transport.ClientConfig. The host and port
// name the server, so both must be set; see ServerEndpoint.
func (c *Config) ClientConfig() (transport.ClientConfig, error) {
	mode, err := c.TransportMode()
	if err != nil {
		return transport.ClientConfig{}, err
	}

	server, err := c.ServerEndpoint()
	if err != nil {
		return transport.ClientConfig{}, err
	}

	cfg := transport.DefaultClientConfig(mode, server).WithTimeout(c.Timeout)
	cfg.ReadBufferSize = c.BufferSize(mode)
	return cfg, nil
}

// BufferSize returns the configured receive buffer for mode.
func (c *Config) BufferSize(mode transport.Mode) int {
	if mode == transport.UDP {
		return c.UDPBuffer
	}

	return c.TCPBuffer
}

func loadEnvString(target *string, key, defaultValue string) {
	if value, ok := os.LookupEnv(key); ok {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}
