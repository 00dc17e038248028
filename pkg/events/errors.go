package events

import "errors"

var (
	ErrEmptyURL          = errors.New("empty nats url")
	ErrConnectFailed     = errors.New("failed to connect to nats")
	ErrPublishFailed     = errors.New("failed to publish event")
	ErrHealthcheckFailed = errors.New("nats healthcheck failed")
)
