package subscription

import (
	"context"
	"errors"
	"time"
)

// Event describes a persisted subscription change.
type Event struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	From        Status    `json:"from,omitempty"`
	To          Status    `json:"to"`
	PlanCode    string    `json:"plan_code"`
	Reason      string    `json:"reason"`
	Version     int64     `json:"version"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher delivers change events to other services. Delivery failures are
// logged by the Service and never roll back the change.
type Publisher interface {
	PublishSubscriptionEvent(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) PublishSubscriptionEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Publishers delivers every event to each of ps in order. All publishers
// run even when one fails; their errors are joined.
func Publishers(ps ...Publisher) Publisher {
	return PublisherFunc(func(ctx context.Context, e Event) error {
		var errs []error
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.PublishSubscriptionEvent(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Metrics receives one call per status change.
type Metrics interface {
	ObserveTransition(from, to string)
}

type noopPublisher struct{}

func (noopPublisher) PublishSubscriptionEvent(context.Context, Event) error { return nil }

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(string, string) {}
