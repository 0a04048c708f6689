package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Errors returned by bindings, sessions and exchangers. They are wrapped with
// context and the underlying OS error; match them with errors.Is.
var (
	// ErrAddressInUse is returned by Bind when another socket holds the port.
	ErrAddressInUse = errors.New("address already in use")
	// ErrConnectionRefused is returned when no server listens on the target endpoint.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrConnectionReset is returned when the peer aborts the connection.
	ErrConnectionReset = errors.New("connection reset by peer")
	// ErrTimeout is returned when a configured timeout expires.
	ErrTimeout = errors.New("operation timed out")
	// ErrEmptyMessage is returned by Session.Receive when the peer closed without sending.
	ErrEmptyMessage = errors.New("peer closed the connection without sending")
	// ErrNoReply is returned by a TCP exchange when the server closed without replying.
	ErrNoReply = errors.New("server closed the connection without replying")
	// ErrMessageTooLarge is returned when a message exceeds the receive buffer of the other side.
	ErrMessageTooLarge = errors.New("message exceeds receive buffer")
	// ErrClosed is returned by operations on a closed binding, session or exchanger.
	ErrClosed = errors.New("transport closed")
	// ErrWrongMode is returned when an operation does not exist for the binding's mode.
	ErrWrongMode = errors.New("operation not supported by transport mode")
)

// IsRecoverable reports whether err is a per-exchange failure after which a
// client may simply try again with the next message.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrConnectionRefused) ||
		errors.Is(err, ErrConnectionReset) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNoReply) ||
		errors.Is(err, ErrMessageTooLarge)
}

// classify maps OS-level socket errors onto the package's sentinel errors,
// keeping the original error in the chain.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.EADDRINUSE):
		return fmt.Errorf("%w: %w", ErrAddressInUse, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %w", ErrConnectionReset, err)
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return err
}
