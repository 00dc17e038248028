package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
)

// Connect dials NATS and keeps reconnecting forever once connected.
func Connect(cfg Config, log *slog.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}
	if log == nil {
		log = slog.Default()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", logger.Component("events"), logger.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logger.Component("events"), slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Join(ErrConnectFailed, err)
	}
	return nc, nil
}

// Healthcheck returns a readiness probe that round-trips to the server.
func Healthcheck(nc *nats.Conn) func(context.Context) error {
	return func(ctx context.Context) error {
		if !nc.IsConnected() {
			return errors.Join(ErrHealthcheckFailed, nats.ErrConnectionClosed)
		}
		if err := nc.FlushWithContext(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
