package subscription

import "errors"

var (
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrSubscriptionExpired  = errors.New("subscription expired")
	ErrFeatureNotAvailable  = errors.New("feature not available on current plan")
	ErrTrialNotAvailable    = errors.New("subscription trial not available")

	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid subscription transition")

	// ErrVersionConflict is returned by Store.Update when the row changed since it was read.
	ErrVersionConflict = errors.New("subscription was modified concurrently")
)
