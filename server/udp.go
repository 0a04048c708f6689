package server

import (
	"fmt"

	"github.com/cyberinferno/go-echo/logger"
	"github.com/cyberinferno/go-echo/transport"
)

// serveUDP answers each datagram to its sender. Nothing is remembered
// between datagrams.
func (s *EchoServer) serveUDP(b *transport.Binding) {
	for {
		msg, from, err := b.ReceiveFrom()
		if err != nil {
			if closed(b, err) {
				return
			}

			s.failures.Add(1)
			s.logger.Error(fmt.Sprintf("%s server receive error", s.cfg.Name), logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		peer := logger.Field{Key: "peer", Value: from.String()}
		s.logger.Info("received", peer, logger.Field{Key: "message", Value: string(msg)}, logger.Field{Key: "bytes", Value: len(msg)})

		if err := b.SendTo(s.cfg.Transform(msg), from); err != nil {
			s.failures.Add(1)
			s.logger.Error("reply failed", peer, logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		s.exchanges.Add(1)
	}
}
