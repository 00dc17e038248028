package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
)

// Service applies lifecycle transitions to stored subscriptions.
//
// Every mutation reads the row, decides on the fresh copy and writes it back
// with a version check. When another writer got there first the decision is
// made again against the new row, so a webhook and the reconciler can never
// overwrite each other's result.
type Service struct {
	store      Store
	catalog    Catalog
	policy     Policy
	trialDays  int
	maxRetries int
	publisher  Publisher
	metrics    Metrics
	log        *slog.Logger
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithConfig applies thresholds, trial length and retry budget from cfg.
func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) {
		s.policy = cfg.Policy()
		if cfg.TrialDays > 0 {
			s.trialDays = cfg.TrialDays
		}
		if cfg.MaxConflictRetries >= 0 {
			s.maxRetries = cfg.MaxConflictRetries
		}
	}
}

func WithPolicy(p Policy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now. Tests use it to move across period boundaries.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over store using catalog for plan lookups.
func NewService(store Store, catalog Catalog, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		catalog:    catalog,
		policy:     Policy{FailedPaymentThreshold: 3, GraceDays: 7},
		trialDays:  14,
		maxRetries: 3,
		publisher:  noopPublisher{},
		metrics:    noopMetrics{},
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscription"))
	return s
}

// Catalog returns the plan table the service was built with.
func (s *Service) Catalog() Catalog {
	return s.catalog
}

// Get returns the current subscription of workspaceID.
func (s *Service) Get(ctx context.Context, workspaceID string) (*Subscription, error) {
	return s.store.Get(ctx, workspaceID)
}

// History returns the recorded changes of workspaceID, oldest first.
func (s *Service) History(ctx context.Context, workspaceID string) ([]Change, error) {
	return s.store.History(ctx, workspaceID)
}

// EffectivePlan returns the plan whose limits currently apply. Workspaces
// without a subscription, and cancelled or expired ones, get the FREE plan.
func (s *Service) EffectivePlan(ctx context.Context, workspaceID string) (Plan, error) {
	sub, err := s.store.Get(ctx, workspaceID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return s.catalog.Get(PlanFree)
	case err != nil:
		return Plan{}, err
	case !sub.Status.AllowsAccess():
		return s.catalog.Get(PlanFree)
	}
	return s.catalog.Get(sub.PlanCode)
}

// Limit returns the quota of r for workspaceID and whether it is soft.
func (s *Service) Limit(ctx context.Context, workspaceID string, r Resource) (int64, bool, error) {
	plan, err := s.EffectivePlan(ctx, workspaceID)
	if err != nil {
		return 0, false, err
	}
	return plan.Limit(r), plan.Soft(r), nil
}

// HasFeature reports whether the effective plan of workspaceID includes f.
func (s *Service) HasFeature(ctx context.Context, workspaceID string, f Feature) (bool, error) {
	plan, err := s.EffectivePlan(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	return plan.HasFeature(f), nil
}

// RequireFeature returns ErrFeatureNotAvailable when f is not part of the plan.
func (s *Service) RequireFeature(ctx context.Context, workspaceID string, f Feature) error {
	ok, err := s.HasFeature(ctx, workspaceID, f)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFeatureNotAvailable, f)
	}
	return nil
}

// CheckAccess returns ErrSubscriptionExpired for cancelled or expired workspaces.
func (s *Service) CheckAccess(ctx context.Context, workspaceID string) error {
	sub, err := s.store.Get(ctx, workspaceID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !sub.Status.AllowsAccess() {
		return fmt.Errorf("%w: status %s", ErrSubscriptionExpired, sub.Status)
	}
	return nil
}

// CreateFree gives workspaceID a FREE subscription. An existing subscription
// is returned unchanged.
func (s *Service) CreateFree(ctx context.Context, workspaceID string) (*Subscription, error) {
	now := s.now()
	sub := &Subscription{
		WorkspaceID: workspaceID,
		PlanCode:    PlanFree,
		Status:      StatusFree,
		Cycle:       CycleMonthly,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.Create(ctx, sub)
	if errors.Is(err, ErrSubscriptionExists) {
		return s.store.Get(ctx, workspaceID)
	}
	if err != nil {
		return nil, err
	}
	s.changed(ctx, Change{WorkspaceID: workspaceID, To: StatusFree, PlanCode: PlanFree, Reason: "created", Version: sub.Version, At: now})
	return sub.Clone(), nil
}

// StartTrial puts a FREE workspace on a trial of planCode. Each workspace
// gets one trial.
func (s *Service) StartTrial(ctx context.Context, workspaceID, planCode string) (*Subscription, error) {
	plan, err := s.catalog.Get(planCode)
	if err != nil {
		return nil, err
	}
	if _, err := s.CreateFree(ctx, workspaceID); err != nil {
		return nil, err
	}
	days := plan.TrialDays
	if days <= 0 {
		days = s.trialDays
	}

	sub, _, err := s.mutate(ctx, workspaceID, "trial started", func(sub *Subscription, now time.Time) (bool, error) {
		if sub.TrialUsed || sub.Status != StatusFree {
			return false, ErrTrialNotAvailable
		}
		if err := transition(sub, StatusTrial); err != nil {
			return false, err
		}
		sub.PlanCode = plan.Code
		sub.TrialUsed = true
		sub.TrialEndsAt = timePtr(now.AddDate(0, 0, days))
		return true, nil
	})
	return sub, err
}

// ActivateInput describes a captured payment for a plan.
type ActivateInput struct {
	PlanCode               string
	Cycle                  BillingCycle
	Provider               string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	// PeriodEnd is the provider reported end of the paid period. When zero the
	// end is derived from Cycle.
	PeriodEnd time.Time
}

// Activate moves workspaceID to ACTIVE on in.PlanCode and starts a new period.
func (s *Service) Activate(ctx context.Context, workspaceID string, in ActivateInput) (*Subscription, error) {
	plan, err := s.catalog.Get(in.PlanCode)
	if err != nil {
		return nil, err
	}
	if _, err := s.CreateFree(ctx, workspaceID); err != nil {
		return nil, err
	}
	cycle := in.Cycle
	if cycle == "" {
		cycle = CycleMonthly
	}

	sub, _, err := s.mutate(ctx, workspaceID, "activated", func(sub *Subscription, now time.Time) (bool, error) {
		end := in.PeriodEnd
		if end.IsZero() {
			end = periodEnd(now, cycle)
		}
		if sub.Status == StatusActive && sub.PlanCode == plan.Code &&
			sub.ExternalSubscriptionID == in.ExternalSubscriptionID &&
			sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Equal(end) {
			return false, nil
		}
		if err := transition(sub, StatusActive); err != nil {
			return false, err
		}
		sub.PlanCode = plan.Code
		sub.Cycle = cycle
		sub.Provider = in.Provider
		sub.ExternalSubscriptionID = in.ExternalSubscriptionID
		sub.ExternalCustomerID = in.ExternalCustomerID
		sub.CurrentPeriodStart = timePtr(now)
		sub.CurrentPeriodEnd = timePtr(end)
		sub.TrialEndsAt = nil
		sub.GracePeriodEndsAt = nil
		sub.CancelledAt = nil
		sub.FailedPaymentCount = 0
		sub.CancelAtPeriodEnd = false
		return true, nil
	})
	return sub, err
}

// Renew records a successful renewal charge. PAST_DUE and GRACE workspaces
// return to ACTIVE. A repeated renewal for the same period end is ignored.
// A zero end lets the cycle decide the period; it is ignored while an ACTIVE
// period is still running, so a redelivered charge never extends it twice.
func (s *Service) Renew(ctx context.Context, workspaceID string, end time.Time) (*Subscription, error) {
	sub, _, err := s.mutate(ctx, workspaceID, "renewed", func(sub *Subscription, now time.Time) (bool, error) {
		switch sub.Status {
		case StatusActive, StatusPastDue, StatusGrace:
		default:
			return false, fmt.Errorf("%w: renew from %s", ErrInvalidTransition, sub.Status)
		}
		running := sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now)
		if end.IsZero() && running && sub.Status == StatusActive {
			return false, nil
		}
		start := now
		if running {
			start = *sub.CurrentPeriodEnd
		}
		newEnd := end
		if newEnd.IsZero() {
			newEnd = periodEnd(start, sub.Cycle)
		}
		if sub.Status == StatusActive && sub.CurrentPeriodEnd != nil && !newEnd.After(*sub.CurrentPeriodEnd) {
			return false, nil
		}
		if err := transition(sub, StatusActive); err != nil {
			return false, err
		}
		sub.CurrentPeriodStart = timePtr(start)
		sub.CurrentPeriodEnd = timePtr(newEnd)
		sub.FailedPaymentCount = 0
		sub.GracePeriodEndsAt = nil
		return true, nil
	})
	return sub, err
}

// RecordPaymentFailure counts a failed charge. ACTIVE becomes PAST_DUE and a
// PAST_DUE subscription that reaches the failure threshold enters GRACE.
// Failures for workspaces that are not on a paid period are ignored.
func (s *Service) RecordPaymentFailure(ctx context.Context, workspaceID string) (*Subscription, error) {
	sub, _, err := s.mutate(ctx, workspaceID, "payment failed", func(sub *Subscription, now time.Time) (bool, error) {
		switch sub.Status {
		case StatusActive:
			sub.FailedPaymentCount++
			return true, transition(sub, StatusPastDue)
		case StatusPastDue:
			sub.FailedPaymentCount++
			if sub.FailedPaymentCount >= s.policy.FailedPaymentThreshold {
				return true, s.policy.enterGrace(sub, now)
			}
			return true, nil
		case StatusGrace:
			sub.FailedPaymentCount++
			return true, nil
		}
		return false, nil
	})
	return sub, err
}

// Cancel ends the subscription. Without immediate an ACTIVE subscription keeps
// its paid period and is cancelled by the reconciler when the period ends.
func (s *Service) Cancel(ctx context.Context, workspaceID string, immediate bool) (*Subscription, error) {
	sub, _, err := s.mutate(ctx, workspaceID, "cancelled", func(sub *Subscription, now time.Time) (bool, error) {
		if sub.Status.Terminal() {
			return false, nil
		}
		if !immediate && sub.Status == StatusActive && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
			if sub.CancelAtPeriodEnd {
				return false, nil
			}
			sub.CancelAtPeriodEnd = true
			return true, nil
		}
		if err := transition(sub, StatusCancelled); err != nil {
			return false, err
		}
		sub.CancelledAt = timePtr(now)
		sub.CancelAtPeriodEnd = false
		return true, nil
	})
	return sub, err
}

// DowngradeToFree moves workspaceID to the FREE plan. It reports false and
// changes nothing when the workspace is already FREE.
func (s *Service) DowngradeToFree(ctx context.Context, workspaceID, reason string) (bool, error) {
	_, changed, err := s.mutate(ctx, workspaceID, reason, func(sub *Subscription, _ time.Time) (bool, error) {
		if sub.Status == StatusFree {
			return false, nil
		}
		return true, downgradeToFree(sub)
	})
	return changed, err
}

// Expire marks workspaceID EXPIRED.
func (s *Service) Expire(ctx context.Context, workspaceID string) (*Subscription, error) {
	sub, _, err := s.mutate(ctx, workspaceID, "expired", func(sub *Subscription, _ time.Time) (bool, error) {
		if sub.Status == StatusExpired {
			return false, nil
		}
		return true, transition(sub, StatusExpired)
	})
	return sub, err
}

// Reconcile applies the time-based transition that is due for workspaceID,
// if any, and reports whether one was applied.
func (s *Service) Reconcile(ctx context.Context, workspaceID string) (bool, error) {
	_, changed, err := s.mutate(ctx, workspaceID, "", func(sub *Subscription, now time.Time) (bool, error) {
		to, due := s.policy.DueTransition(sub, now)
		if !due {
			return false, nil
		}
		switch to {
		case StatusGrace:
			return true, s.policy.enterGrace(sub, now)
		case StatusCancelled:
			if err := transition(sub, StatusCancelled); err != nil {
				return false, err
			}
			sub.CancelledAt = timePtr(now)
			sub.CancelAtPeriodEnd = false
			return true, nil
		default:
			return true, downgradeToFree(sub)
		}
	})
	return changed, err
}

// ExpireTrial downgrades workspaceID when its trial ended without payment.
func (s *Service) ExpireTrial(ctx context.Context, workspaceID string) (bool, error) {
	_, changed, err := s.mutate(ctx, workspaceID, "trial expired", func(sub *Subscription, now time.Time) (bool, error) {
		if !s.policy.TrialExpired(sub, now) {
			return false, nil
		}
		return true, downgradeToFree(sub)
	})
	return changed, err
}

// DueForReconcile lists workspaces whose time-based transition has elapsed.
func (s *Service) DueForReconcile(ctx context.Context) ([]string, error) {
	subs, err := s.store.ListByStatus(ctx, StatusPastDue, StatusGrace, StatusActive)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var ids []string
	for _, sub := range subs {
		if _, due := s.policy.DueTransition(sub, now); due {
			ids = append(ids, sub.WorkspaceID)
		}
	}
	return ids, nil
}

// ExpiredTrials lists workspaces whose trial has run out.
func (s *Service) ExpiredTrials(ctx context.Context) ([]string, error) {
	subs, err := s.store.ListByStatus(ctx, StatusTrial)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var ids []string
	for _, sub := range subs {
		if s.policy.TrialExpired(sub, now) {
			ids = append(ids, sub.WorkspaceID)
		}
	}
	return ids, nil
}

type mutation func(sub *Subscription, now time.Time) (bool, error)

// mutate runs fn on a fresh copy of the stored row and writes the result back
// when fn reports a change. On a version conflict fn runs again on the row the
// other writer produced.
func (s *Service) mutate(ctx context.Context, workspaceID, reason string, fn mutation) (*Subscription, bool, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.store.Get(ctx, workspaceID)
		if err != nil {
			return nil, false, err
		}
		now := s.now()
		next := current.Clone()
		changed, err := fn(next, now)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return current, false, nil
		}

		next.UpdatedAt = now
		change := Change{
			WorkspaceID: workspaceID,
			From:        current.Status,
			To:          next.Status,
			PlanCode:    next.PlanCode,
			Reason:      reasonFor(reason, current.Status, next.Status),
			At:          now,
		}
		err = s.store.Update(ctx, next, change)
		if errors.Is(err, ErrVersionConflict) && attempt < s.maxRetries {
			s.log.DebugContext(ctx, "subscription changed concurrently, retrying",
				logger.WorkspaceID(workspaceID),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("update subscription %s: %w", workspaceID, err)
		}

		change.Version = next.Version
		s.changed(ctx, change)
		return next, true, nil
	}
}

func reasonFor(reason string, from, to Status) string {
	if reason != "" {
		return reason
	}
	return fmt.Sprintf("%s -> %s", from, to)
}

func (s *Service) changed(ctx context.Context, c Change) {
	if c.From != c.To {
		s.metrics.ObserveTransition(string(c.From), string(c.To))
		s.log.InfoContext(ctx, "subscription status changed",
			logger.WorkspaceID(c.WorkspaceID),
			logger.Transition(string(c.From), string(c.To)),
			slog.String("plan", c.PlanCode),
			slog.String("reason", c.Reason),
		)
	}

	e := Event{
		ID:          uuid.NewString(),
		WorkspaceID: c.WorkspaceID,
		From:        c.From,
		To:          c.To,
		PlanCode:    c.PlanCode,
		Reason:      c.Reason,
		Version:     c.Version,
		OccurredAt:  c.At,
	}
	if err := s.publisher.PublishSubscriptionEvent(ctx, e); err != nil {
		s.log.WarnContext(ctx, "failed to publish subscription event",
			logger.WorkspaceID(c.WorkspaceID),
			logger.Error(err),
		)
	}
}
