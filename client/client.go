// Package client implements the operator-facing echo client loop: read a
// line, send it, wait for the reply, print it, repeat.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/cyberinferno/go-echo/logger"
	"github.com/cyberinferno/go-echo/perfmonitor"
	"github.com/cyberinferno/go-echo/transport"
)

// Config holds the console settings of the loop.
type Config struct {
	// Prompt is printed before every line is read.
	Prompt string
	// Sentinel ends the loop when entered on its own line. Empty disables it.
	Sentinel string
	// ReplyPrefix is printed in front of every reply.
	ReplyPrefix string
}

// DefaultConfig returns the prompts used by the echo-client command.
func DefaultConfig() Config {
	return Config{
		Prompt:      "Input lowercase text: ",
		Sentinel:    "quit",
		ReplyPrefix: "Returned from server: ",
	}
}

// Loop reads operator input and exchanges it with the server one line at a
// time. It is not safe for concurrent use.
type Loop struct {
	cfg       Config
	exchanger transport.Exchanger
	in        *bufio.Reader
	out       io.Writer
	logger    logger.Logger
	errColor  *color.Color
}

// New creates a Loop.
//
// Parameters:
//   - cfg: Prompt, sentinel and reply prefix
//   - exchanger: Carries each line to the server
//   - in: Operator input, read line by line with no length limit
//   - out: Operator output for prompts, replies and error messages
//   - log: Logger for diagnostics; nil discards
//
// Returns:
//   - A Loop ready to Run
func New(cfg Config, exchanger transport.Exchanger, in io.Reader, out io.Writer, log logger.Logger) *Loop {
	if log == nil {
		log = logger.Nop()
	}

	return &Loop{
		cfg:       cfg,
		exchanger: exchanger,
		in:        bufio.NewReader(in),
		out:       out,
		logger:    log,
		errColor:  color.New(color.FgRed),
	}
}

// Run drives the loop until the sentinel is entered, the input ends or ctx
// is done, all of which return nil. Exchange failures are printed and the
// loop moves on to the next line; only a closed exchanger or an input read
// error ends it with an error.
func (l *Loop) Run(ctx context.Context) error {
	pm := perfmonitor.NewPerformanceMonitor()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fmt.Fprint(l.out, l.cfg.Prompt)
		line, err := l.in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(l.out)
				return nil
			}

			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if l.cfg.Sentinel != "" && line == l.cfg.Sentinel {
			l.logger.Debug("sentinel entered, stopping")
			return nil
		}

		pm.Start()
		reply, err := l.exchanger.Exchange(ctx, []byte(line))
		pm.Stop()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if errors.Is(err, transport.ErrClosed) {
				return err
			}

			l.report(err)
			continue
		}

		fmt.Fprintf(l.out, "%s%s\n", l.cfg.ReplyPrefix, reply)
		l.logger.Debug("round trip",
			logger.Field{Key: "bytes_sent", Value: len(line)},
			logger.Field{Key: "bytes_received", Value: len(reply)},
			logger.Field{Key: "rtt_ms", Value: pm.ElapsedMilliseconds()},
		)
	}
}

func (l *Loop) report(err error) {
	switch {
	case errors.Is(err, transport.ErrNoReply):
		l.errColor.Fprintln(l.out, "Server closed the connection without replying.")
	case errors.Is(err, transport.ErrConnectionRefused):
		l.errColor.Fprintf(l.out, "Connection refused: is the server running? (%v)\n", err)
	case errors.Is(err, transport.ErrMessageTooLarge):
		l.errColor.Fprintf(l.out, "Message not sent, it is too long (%v)\n", err)
	default:
		l.errColor.Fprintf(l.out, "Exchange failed: %v\n", err)
	}

	l.logger.Warn("exchange failed",
		logger.Field{Key: "error", Value: err.Error()},
		logger.Field{Key: "recoverable", Value: transport.IsRecoverable(err)},
	)
}
