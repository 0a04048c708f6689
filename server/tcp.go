package server

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/go-echo/logger"
	"github.com/cyberinferno/go-echo/transport"
)

// serveTCP accepts one connection at a time and runs exactly one exchange on
// it before accepting the next.
func (s *EchoServer) serveTCP(b *transport.Binding) {
	for {
		session, err := b.Accept()
		if err != nil {
			if closed(b, err) {
				return
			}

			s.failures.Add(1)
			s.logger.Error(fmt.Sprintf("%s server accept error", s.cfg.Name), logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		s.handleSession(session)
	}
}

func (s *EchoServer) handleSession(session *transport.Session) {
	log := s.logger.With(
		logger.Field{Key: "session", Value: session.ID()},
		logger.Field{Key: "peer", Value: session.Peer().String()},
	)

	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("session close error", logger.Field{Key: "error", Value: err.Error()})
		}
	}()

	msg, err := session.Receive()
	if errors.Is(err, transport.ErrEmptyMessage) {
		s.empty.Add(1)
		log.Info("peer closed without sending, no reply")
		return
	}

	if errors.Is(err, transport.ErrClosed) {
		log.Info("session closed by shutdown before a message arrived")
		return
	}

	if err != nil {
		s.failures.Add(1)
		log.Error("receive failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	log.Info("received", logger.Field{Key: "message", Value: string(msg)}, logger.Field{Key: "bytes", Value: len(msg)})

	if err := session.Send(s.cfg.Transform(msg)); err != nil {
		s.failures.Add(1)
		log.Error("reply failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	s.exchanges.Add(1)
}
