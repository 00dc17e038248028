package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

// Subscriptions is the part of *subscription.Service webhooks drive.
type Subscriptions interface {
	Activate(ctx context.Context, workspaceID string, in subscription.ActivateInput) (*subscription.Subscription, error)
	Renew(ctx context.Context, workspaceID string, end time.Time) (*subscription.Subscription, error)
	RecordPaymentFailure(ctx context.Context, workspaceID string) (*subscription.Subscription, error)
	Cancel(ctx context.Context, workspaceID string, immediate bool) (*subscription.Subscription, error)
	DowngradeToFree(ctx context.Context, workspaceID, reason string) (bool, error)
}

// Metrics receives webhook outcomes.
type Metrics interface {
	ObserveWebhook(provider, kind, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveWebhook(string, string, string) {}

// Webhook outcomes reported to Metrics.
const (
	OutcomeApplied  = "applied"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Orchestrator dispatches purchases and webhooks to registered providers and
// applies the normalized results to subscriptions.
type Orchestrator struct {
	mu        sync.RWMutex
	providers map[string]Provider
	subs      Subscriptions
	metrics   Metrics
	log       *slog.Logger
}

type Option func(*Orchestrator)

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func NewOrchestrator(subs Subscriptions, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: make(map[string]Provider),
		subs:      subs,
		metrics:   noopMetrics{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With(logger.Component("payment"))
	return o
}

// Register adds p under p.Name().
func (o *Orchestrator) Register(p Provider) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	name := p.Name()
	if _, ok := o.providers[name]; ok {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
	}
	o.providers[name] = p
	return nil
}

// Provider returns the provider registered under name.
func (o *Orchestrator) Provider(name string) (Provider, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotRegistered, name)
	}
	return p, nil
}

// Providers lists registered provider names in order.
func (o *Orchestrator) Providers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// VerifyPurchase checks token with the provider it is tagged with and
// activates the workspace on the purchased plan. An invalid purchase fails
// with ErrInvalidPurchaseToken and leaves the subscription untouched.
func (o *Orchestrator) VerifyPurchase(ctx context.Context, workspaceID string, token PurchaseToken) (*PurchaseResult, *subscription.Subscription, error) {
	ctx, err := tenant.Scope(ctx, workspaceID)
	if err != nil {
		return nil, nil, err
	}
	if token.Token == "" {
		return nil, nil, ErrInvalidPurchaseToken
	}
	p, err := o.Provider(token.Provider)
	if err != nil {
		return nil, nil, err
	}

	res, err := p.VerifyPurchase(ctx, workspaceID, token)
	if err != nil {
		o.log.WarnContext(ctx, "purchase verification failed",
			logger.WorkspaceID(workspaceID),
			logger.Provider(token.Provider),
			logger.Error(err),
		)
		return nil, nil, err
	}
	if !res.Valid {
		return res, nil, fmt.Errorf("%w: %s", ErrInvalidPurchaseToken, res.Reason)
	}

	sub, err := o.subs.Activate(ctx, workspaceID, subscription.ActivateInput{
		PlanCode:               res.PlanCode,
		Cycle:                  res.Cycle,
		Provider:               res.Provider,
		ExternalSubscriptionID: res.ExternalSubscriptionID,
		ExternalCustomerID:     res.ExternalCustomerID,
		PeriodEnd:              res.PeriodEnd,
	})
	if err != nil {
		return res, nil, err
	}
	o.log.InfoContext(ctx, "purchase verified",
		logger.WorkspaceID(workspaceID),
		logger.Provider(res.Provider),
		slog.String("plan", res.PlanCode),
	)
	return res, sub, nil
}

// HandleWebhook verifies and applies one notification of provider. A
// notification that fails verification changes nothing.
func (o *Orchestrator) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookResult, error) {
	p, err := o.Provider(provider)
	if err != nil {
		return nil, err
	}

	res, err := p.HandleWebhook(ctx, payload, signature)
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, ErrWebhookVerificationFailed) {
			outcome = OutcomeRejected
		}
		o.metrics.ObserveWebhook(provider, "", outcome)
		o.log.WarnContext(ctx, "webhook rejected",
			logger.Provider(provider),
			logger.Error(err),
		)
		return nil, err
	}

	if res.Kind == KindIgnored || res.WorkspaceID == "" {
		if res.Kind != KindIgnored {
			o.log.WarnContext(ctx, "webhook without workspace",
				logger.Provider(provider),
				slog.String("event_type", res.EventType),
				slog.String("event_id", res.EventID),
			)
		}
		o.metrics.ObserveWebhook(provider, string(res.Kind), OutcomeIgnored)
		return res, nil
	}

	ctx = tenant.WithTenant(ctx, res.WorkspaceID)
	if err := o.apply(ctx, res); err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) || errors.Is(err, subscription.ErrInvalidTransition) {
			o.log.WarnContext(ctx, "webhook does not apply to subscription",
				logger.WorkspaceID(res.WorkspaceID),
				logger.Provider(provider),
				slog.String("event_type", res.EventType),
			)
			o.metrics.ObserveWebhook(provider, string(res.Kind), OutcomeIgnored)
			return res, nil
		}
		o.metrics.ObserveWebhook(provider, string(res.Kind), OutcomeFailed)
		return res, err
	}

	o.metrics.ObserveWebhook(provider, string(res.Kind), OutcomeApplied)
	o.log.InfoContext(ctx, "webhook applied",
		logger.WorkspaceID(res.WorkspaceID),
		logger.Provider(provider),
		slog.String("kind", string(res.Kind)),
		slog.String("event_type", res.EventType),
	)
	return res, nil
}

func (o *Orchestrator) apply(ctx context.Context, r *WebhookResult) error {
	ws := r.WorkspaceID
	switch r.Kind {
	case KindActivated:
		return o.activate(ctx, r)
	case KindRenewed:
		_, err := o.subs.Renew(ctx, ws, r.PeriodEnd)
		if r.PlanCode != "" && (errors.Is(err, subscription.ErrInvalidTransition) || errors.Is(err, subscription.ErrSubscriptionNotFound)) {
			// A renewal that arrives before the activation still proves payment.
			return o.activate(ctx, r)
		}
		return err
	case KindPaymentFailed:
		_, err := o.subs.RecordPaymentFailure(ctx, ws)
		return err
	case KindCancelled:
		_, err := o.subs.Cancel(ctx, ws, r.Immediate)
		return err
	case KindExpired:
		_, err := o.subs.DowngradeToFree(ctx, ws, r.Provider+" "+r.EventType)
		return err
	}
	return nil
}

func (o *Orchestrator) activate(ctx context.Context, r *WebhookResult) error {
	if r.PlanCode == "" {
		return fmt.Errorf("%w: activation without plan", ErrInvalidWebhookPayload)
	}
	_, err := o.subs.Activate(ctx, r.WorkspaceID, subscription.ActivateInput{
		PlanCode:               r.PlanCode,
		Cycle:                  r.Cycle,
		Provider:               r.Provider,
		ExternalSubscriptionID: r.ExternalSubscriptionID,
		ExternalCustomerID:     r.ExternalCustomerID,
		PeriodEnd:              r.PeriodEnd,
	})
	return err
}
