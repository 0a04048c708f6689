package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-echo/config"
	"github.com/cyberinferno/go-echo/logger"
	"github.com/cyberinferno/go-echo/resolver"
	"github.com/cyberinferno/go-echo/server"
)

var (
	mode     string
	host     string
	port     int
	logDir   string
	logLevel string

	sessionTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "echo-server",
	Short: "echo-server - uppercasing TCP/UDP echo server",
	Long: `echo-server binds one TCP or UDP socket and answers every message with its
uppercased copy. TCP clients get one reply per connection; UDP datagrams are
answered to their source address. Settings come from the environment (and an
optional .env file); flags override them.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&mode, "mode", "tcp", "transport mode: tcp or udp")
	rootCmd.Flags().StringVar(&host, "host", "", "IP address to bind (default all interfaces)")
	rootCmd.Flags().IntVar(&port, "port", config.DefaultPort, "port to bind, 0 for an ephemeral port")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "", "directory for daily log files")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().DurationVar(&sessionTimeout, "session-timeout", 0, "close a TCP session idle this long, 0 waits forever")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	log, err := logger.New(logger.Options{Service: "echo-server", Level: level, Dir: cfg.LogDir})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	bindCfg, err := cfg.BindingConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{Binding: bindCfg}, log)
	if err := srv.Bind(ctx); err != nil {
		return err
	}

	res, closeCache, err := newResolver(cfg, log)
	if err != nil {
		_ = srv.Close()
		return err
	}
	defer closeCache()

	if err := printBanner(ctx, srv, res); err != nil {
		log.Warn("failed to print banner", logger.Field{Key: "error", Value: err.Error()})
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Restore default signal handling so a second interrupt kills the process.
		stop()
		log.Info("shutting down")
		return srv.Close()
	})

	// SIGHUP prints the banner again; the outbound address comes from the
	// resolver cache until its TTL expires.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := printBanner(gctx, srv, res); err != nil {
					log.Warn("failed to print banner", logger.Field{Key: "error", Value: err.Error()})
				}
			}
		}
	})

	return g.Wait()
}

// applyFlags lets explicitly set flags override the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = mode
	}
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = logDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("session-timeout") {
		cfg.SessionTimeout = sessionTimeout
	}
}

func newResolver(cfg *config.Config, log logger.Logger) (*resolver.Resolver, func(), error) {
	rcfg := resolver.Config{
		ProbeAddr: cfg.ProbeAddr,
		Fallback:  netip.MustParseAddr(cfg.FallbackIP),
		TTL:       cfg.ResolverTTL,
	}

	switch cfg.ResolverCache {
	case config.CacheRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}

		client := redis.NewClient(opts)
		closeFn := func() {
			_ = client.Close()
		}
		return resolver.New(rcfg, resolver.NewRedisCache(client, "echo:"), log), closeFn, nil
	default:
		return resolver.New(rcfg, resolver.NewMemoryCache(time.Minute), log), func() {}, nil
	}
}

func printBanner(ctx context.Context, srv *server.EchoServer, res *resolver.Resolver) error {
	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return server.WriteBanner(os.Stdout, srv.Announce(lookupCtx, res))
}
