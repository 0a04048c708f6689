package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-echo/server"
	"github.com/cyberinferno/go-echo/transport"
)

type fakeExchanger struct {
	sent    []string
	replies map[string][]byte
	errs    map[string]error
	closed  bool
}

func (f *fakeExchanger) Exchange(_ context.Context, msg []byte) ([]byte, error) {
	f.sent = append(f.sent, string(msg))
	if err, ok := f.errs[string(msg)]; ok {
		return nil, err
	}

	if reply, ok := f.replies[string(msg)]; ok {
		return reply, nil
	}

	return bytes.ToUpper(msg), nil
}

func (f *fakeExchanger) Close() error {
	f.closed = true
	return nil
}

func TestLoop_Run(t *testing.T) {
	t.Run("prints each reply and stops at the sentinel", func(t *testing.T) {
		ex := &fakeExchanger{}
		var out bytes.Buffer

		l := New(DefaultConfig(), ex, strings.NewReader("hello\nworld\nquit\nnever sent\n"), &out, nil)
		require.NoError(t, l.Run(context.Background()))

		assert.Equal(t, []string{"hello", "world"}, ex.sent)
		assert.Contains(t, out.String(), "Returned from server: HELLO\n")
		assert.Contains(t, out.String(), "Returned from server: WORLD\n")
		assert.Equal(t, 3, strings.Count(out.String(), "Input lowercase text: "))
	})

	t.Run("end of input ends the loop cleanly", func(t *testing.T) {
		ex := &fakeExchanger{}
		l := New(DefaultConfig(), ex, strings.NewReader("only\n"), io.Discard, nil)
		require.NoError(t, l.Run(context.Background()))
		assert.Equal(t, []string{"only"}, ex.sent)
	})

	t.Run("custom sentinel", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Sentinel = "bye"
		ex := &fakeExchanger{}

		l := New(cfg, ex, strings.NewReader("quit\nbye\nlate\n"), io.Discard, nil)
		require.NoError(t, l.Run(context.Background()))
		assert.Equal(t, []string{"quit"}, ex.sent)
	})

	t.Run("empty sentinel disables it", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Sentinel = ""
		ex := &fakeExchanger{}

		l := New(cfg, ex, strings.NewReader("quit\n\n"), io.Discard, nil)
		require.NoError(t, l.Run(context.Background()))
		assert.Equal(t, []string{"quit", ""}, ex.sent)
	})

	t.Run("strips carriage returns", func(t *testing.T) {
		ex := &fakeExchanger{}
		l := New(DefaultConfig(), ex, strings.NewReader("dos\r\nquit\r\n"), io.Discard, nil)
		require.NoError(t, l.Run(context.Background()))
		assert.Equal(t, []string{"dos"}, ex.sent)
	})

	t.Run("recoverable errors are reported and the loop continues", func(t *testing.T) {
		ex := &fakeExchanger{errs: map[string]error{
			"down":  fmt.Errorf("connect: %w", transport.ErrConnectionRefused),
			"":      fmt.Errorf("receive: %w", transport.ErrNoReply),
			"slow":  fmt.Errorf("receive: %w", transport.ErrTimeout),
			"reset": fmt.Errorf("receive: %w", transport.ErrConnectionReset),
		}}
		var out bytes.Buffer

		l := New(DefaultConfig(), ex, strings.NewReader("down\n\nslow\nreset\nup\n"), &out, nil)
		require.NoError(t, l.Run(context.Background()))

		assert.Equal(t, []string{"down", "", "slow", "reset", "up"}, ex.sent)
		assert.Contains(t, out.String(), "Connection refused")
		assert.Contains(t, out.String(), "without replying")
		assert.Contains(t, out.String(), "timed out")
		assert.Contains(t, out.String(), "Returned from server: UP")
	})

	t.Run("lines longer than any read buffer do not end the loop", func(t *testing.T) {
		long := strings.Repeat("a", 70000)
		ex := &fakeExchanger{errs: map[string]error{
			long: fmt.Errorf("70000 bytes: %w", transport.ErrMessageTooLarge),
		}}
		var out bytes.Buffer

		l := New(DefaultConfig(), ex, strings.NewReader(long+"\nhello\nquit\n"), &out, nil)
		require.NoError(t, l.Run(context.Background()))

		require.Len(t, ex.sent, 2)
		assert.Len(t, ex.sent[0], 70000)
		assert.Equal(t, "hello", ex.sent[1])
		assert.Contains(t, out.String(), "too long")
		assert.Contains(t, out.String(), "Returned from server: HELLO\n")
	})

	t.Run("last line without a newline is still sent", func(t *testing.T) {
		ex := &fakeExchanger{}
		l := New(DefaultConfig(), ex, strings.NewReader("first\nlast"), io.Discard, nil)
		require.NoError(t, l.Run(context.Background()))
		assert.Equal(t, []string{"first", "last"}, ex.sent)
	})

	t.Run("closed exchanger ends the loop with an error", func(t *testing.T) {
		ex := &fakeExchanger{errs: map[string]error{"x": transport.ErrClosed}}
		l := New(DefaultConfig(), ex, strings.NewReader("x\ny\n"), io.Discard, nil)
		assert.ErrorIs(t, l.Run(context.Background()), transport.ErrClosed)
		assert.Equal(t, []string{"x"}, ex.sent)
	})

	t.Run("cancelled context ends the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ex := &fakeExchanger{}
		l := New(DefaultConfig(), ex, strings.NewReader("hello\n"), io.Discard, nil)
		require.NoError(t, l.Run(ctx))
		assert.Empty(t, ex.sent)
	})

	t.Run("input read errors are returned", func(t *testing.T) {
		l := New(DefaultConfig(), &fakeExchanger{}, errReader{}, io.Discard, nil)
		assert.ErrorContains(t, l.Run(context.Background()), "read input")
	})
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("terminal gone")
}

func TestLoop_AgainstServer(t *testing.T) {
	for _, mode := range []transport.Mode{transport.TCP, transport.UDP} {
		t.Run(string(mode), func(t *testing.T) {
			bindCfg := transport.DefaultConfig(mode, 0)
			bindCfg.Endpoint.Addr = netip.MustParseAddr("127.0.0.1")
			srv := server.New(server.Config{Binding: bindCfg}, nil)
			require.NoError(t, srv.Bind(context.Background()))

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- srv.Serve(ctx) }()
			defer func() {
				cancel()
				<-done
			}()

			ex, err := transport.NewExchanger(transport.DefaultClientConfig(mode, srv.LocalEndpoint()).WithTimeout(2 * time.Second))
			require.NoError(t, err)
			defer ex.Close()

			var out bytes.Buffer
			l := New(DefaultConfig(), ex, strings.NewReader("hello\nmixed Case 42\nquit\n"), &out, nil)
			require.NoError(t, l.Run(context.Background()))

			assert.Contains(t, out.String(), "Returned from server: HELLO\n")
			assert.Contains(t, out.String(), "Returned from server: MIXED CASE 42\n")
		})
	}
}
