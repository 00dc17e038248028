package httpserver

import (
	"log/slog"
	"net"
)

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithListener serves on an existing listener instead of binding Config.Addr.
func WithListener(l net.Listener) Option {
	return func(s *Server) { s.listener = l }
}
