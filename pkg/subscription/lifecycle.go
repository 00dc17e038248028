package subscription

import (
	"fmt"
	"time"
)

// transitions lists the status changes the lifecycle allows. Self-transitions
// are handled by callers as no-ops and are not listed.
var transitions = map[Status][]Status{
	StatusTrial:   {StatusActive, StatusFree, StatusCancelled, StatusExpired},
	StatusActive:  {StatusPastDue, StatusFree, StatusCancelled, StatusExpired},
	StatusPastDue: {StatusActive, StatusGrace, StatusFree, StatusCancelled, StatusExpired},
	StatusGrace:   {StatusActive, StatusFree, StatusCancelled, StatusExpired},
	StatusFree:    {StatusTrial, StatusActive, StatusCancelled, StatusExpired},
	// A cancelled or expired workspace may subscribe again.
	StatusCancelled: {StatusActive, StatusFree},
	StatusExpired:   {StatusActive, StatusFree},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(s *Subscription, to Status) error {
	if s.Status == to {
		return nil
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// Policy holds the knobs of the time-based transitions.
type Policy struct {
	FailedPaymentThreshold int
	GraceDays              int
}

// DueTransition returns the time-based transition that currently applies to
// s, if any. It never mutates s. Every condition is evaluated against the row
// as stored, so calling it for a row a webhook already moved yields nothing.
func (p Policy) DueTransition(s *Subscription, now time.Time) (Status, bool) {
	switch s.Status {
	case StatusPastDue:
		if s.FailedPaymentCount >= p.FailedPaymentThreshold {
			return StatusGrace, true
		}
	case StatusGrace:
		if s.GracePeriodEndsAt == nil || !now.Before(*s.GracePeriodEndsAt) {
			return StatusFree, true
		}
	case StatusActive:
		if s.CurrentPeriodEnd != nil && now.After(*s.CurrentPeriodEnd) {
			if s.CancelAtPeriodEnd {
				return StatusCancelled, true
			}
			return StatusFree, true
		}
	}
	return "", false
}

// TrialExpired reports whether a trial has run out without payment capture.
func (p Policy) TrialExpired(s *Subscription, now time.Time) bool {
	return s.Status == StatusTrial && s.TrialEndsAt != nil && !now.Before(*s.TrialEndsAt)
}

// enterGrace moves s to GRACE and starts the grace window.
func (p Policy) enterGrace(s *Subscription, now time.Time) error {
	if err := transition(s, StatusGrace); err != nil {
		return err
	}
	s.GracePeriodEndsAt = timePtr(now.AddDate(0, 0, p.GraceDays))
	return nil
}

// downgradeToFree moves s to the free tier and drops every paid-plan field.
func downgradeToFree(s *Subscription) error {
	if err := transition(s, StatusFree); err != nil {
		return err
	}
	s.PlanCode = PlanFree
	s.Provider = ""
	s.ExternalSubscriptionID = ""
	s.ExternalCustomerID = ""
	s.CurrentPeriodStart = nil
	s.CurrentPeriodEnd = nil
	s.TrialEndsAt = nil
	s.GracePeriodEndsAt = nil
	s.FailedPaymentCount = 0
	s.CancelAtPeriodEnd = false
	return nil
}

// periodEnd computes the end of a paid period that starts at start.
// Each month counts as 30 days, matching how periods are billed.
func periodEnd(start time.Time, cycle BillingCycle) time.Time {
	return start.AddDate(0, 0, 30*cycle.Months())
}
