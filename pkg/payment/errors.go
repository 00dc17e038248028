package payment

import "errors"

var (
	ErrProviderError             = errors.New("payment provider error")
	ErrProviderNotRegistered     = errors.New("payment provider not registered")
	ErrProviderAlreadyRegistered = errors.New("payment provider already registered")
	ErrWebhookVerificationFailed = errors.New("webhook verification failed")
	ErrInvalidPurchaseToken      = errors.New("invalid purchase token")
	ErrInvalidWebhookPayload     = errors.New("invalid webhook payload")
	ErrUnknownProduct            = errors.New("no plan mapped to provider product")
	ErrMissingCredentials        = errors.New("payment provider credentials are not configured")
)
