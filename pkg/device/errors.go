package device

import "errors"

var (
	ErrDeviceLimitExceeded = errors.New("device limit exceeded")
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceInactive      = errors.New("device session is deactivated")
	ErrInvalidToken        = errors.New("invalid device token")
	ErrTokenExpired        = errors.New("device token expired")
	ErrRefreshWindowClosed = errors.New("device token is past its refresh grace period, register again")
	ErrInvalidDeviceID     = errors.New("invalid device id")
	ErrMissingTokenSecret  = errors.New("device token secret is not configured")
)
