package scheduler

import (
	"log/slog"
	"time"
)

// Metrics observes finished job runs. Outcome is "ok", "failed" or "skipped".
type Metrics interface {
	ObserveJob(name, outcome string, elapsed time.Duration)
}

type Option func(*Scheduler)

// WithCheckInterval sets how often due jobs are looked up. Defaults to 30s.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}
