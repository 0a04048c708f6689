package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-echo/client"
	"github.com/cyberinferno/go-echo/config"
	"github.com/cyberinferno/go-echo/logger"
	"github.com/cyberinferno/go-echo/transport"
)

var (
	ipAddress string
	port      int
	mode      string
	sentinel  string
	timeout   time.Duration
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "echo-client",
	Short: "echo-client - interactive client for echo-server",
	Long: `echo-client reads lines from standard input, sends each one to an echo
server over TCP or UDP and prints the uppercased reply. Enter the sentinel
(default "quit") or press Ctrl+D to stop.`,
	Example:      "  echo-client -i 127.0.0.1 -p 12000 --mode udp",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&ipAddress, "ipaddress", "i", "", "server IP address")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "server port")
	rootCmd.Flags().StringVar(&mode, "mode", "tcp", "transport mode: tcp or udp")
	rootCmd.Flags().StringVar(&sentinel, "sentinel", "quit", "input line that ends the session")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "dial/read/write timeout, 0 waits forever")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	_ = rootCmd.MarkFlagRequired("ipaddress")
	_ = rootCmd.MarkFlagRequired("port")
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
	cfg.Host = ipAddress
	cfg.Port = port
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	log, err := logger.New(logger.Options{Service: "echo-client", Level: level, Dir: cfg.LogDir})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	ccfg, err := cfg.ClientConfig()
	if err != nil {
		return err
	}

	exchanger, err := transport.NewExchanger(ccfg)
	if err != nil {
		return err
	}
	defer exchanger.Close()

	fmt.Printf("I'm configured to send %s packets to %s\n", ccfg.Mode, ccfg.Server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopCfg := client.DefaultConfig()
	loopCfg.Sentinel = cfg.Sentinel
	loop := client.New(loopCfg, exchanger, os.Stdin, os.Stdout, log)

	// Reading stdin cannot be interrupted, so the loop runs on its own
	// goroutine and an interrupt returns without waiting for it.
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		fmt.Println()
		log.Info("interrupted")
		return nil
	}
}

// applyFlags lets explicitly set flags override the loaded configuration. The
// client logs at warn unless LOG_LEVEL or --log-level says otherwise.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = mode
	}
	if flags.Changed("sentinel") {
		cfg.Sentinel = sentinel
	}
	if flags.Changed("log-level") || os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeout
	}
}
