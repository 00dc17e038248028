package subscription

import "time"

// Subscription is the current subscription of one workspace.
type Subscription struct {
	WorkspaceID string
	PlanCode    string
	Status      Status
	Cycle       BillingCycle

	Provider               string
	ExternalSubscriptionID string
	ExternalCustomerID     string

	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEndsAt        *time.Time
	GracePeriodEndsAt  *time.Time
	CancelledAt        *time.Time

	FailedPaymentCount int
	TrialUsed          bool
	CancelAtPeriodEnd  bool

	// Version is incremented by every successful Store.Update and guards
	// against lost updates between webhooks and the reconciler.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.TrialEndsAt = cloneTime(s.TrialEndsAt)
	c.GracePeriodEndsAt = cloneTime(s.GracePeriodEndsAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// Change is an audit record written for every persisted transition.
type Change struct {
	WorkspaceID string
	From        Status
	To          Status
	PlanCode    string
	Reason      string
	Version     int64
	At          time.Time
}
