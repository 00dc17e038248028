package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher sends subscription events to
// "<prefix>.subscription.<status>" as JSON. The event id travels in the
// Nats-Msg-Id header so JetStream streams can deduplicate redeliveries.
type Publisher struct {
	conn   Conn
	prefix string
}

var _ subscription.Publisher = (*Publisher)(nil)

func NewPublisher(conn Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: strings.Trim(prefix, ".")}
}

// Subject returns the subject an event with status to is published on.
func (p *Publisher) Subject(to subscription.Status) string {
	s := "subscription." + strings.ToLower(string(to))
	if p.prefix == "" {
		return s
	}
	return p.prefix + "." + s
}

func (p *Publisher) PublishSubscriptionEvent(ctx context.Context, e subscription.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}

	msg := nats.NewMsg(p.Subject(e.To))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, e.ID)
	msg.Header.Set("Workspace-Id", e.WorkspaceID)

	if err := p.conn.PublishMsg(msg); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	return nil
}
