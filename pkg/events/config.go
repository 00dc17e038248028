package events

import "time"

// Config holds the NATS_* connection settings. An empty URL disables publishing.
type Config struct {
	URL           string        `env:"NATS_URL"`
	SubjectPrefix string        `env:"NATS_SUBJECT_PREFIX" envDefault:"workspacekit"`
	ClientName    string        `env:"NATS_CLIENT_NAME" envDefault:"workspacekit"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	Timeout       time.Duration `env:"NATS_TIMEOUT" envDefault:"5s"`
}
