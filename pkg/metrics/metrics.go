// Package metrics holds the Prometheus collectors for workspace limits,
// subscription transitions, payment webhooks, scheduled jobs and HTTP traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LimitDenials        *prometheus.CounterVec
	SubscriptionChanges *prometheus.CounterVec
	WebhooksTotal       *prometheus.CounterVec
	JobRunsTotal        *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector with reg under namespace. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "workspacekit"
	}
	f := promauto.With(reg)

	return &Metrics{
		LimitDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_denials_total",
			Help:      "Operations rejected because a plan quota was reached.",
		}, []string{"counter"}),
		SubscriptionChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_transitions_total",
			Help:      "Subscription status changes.",
		}, []string{"from", "to"}),
		WebhooksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhooks_total",
			Help:      "Payment provider webhooks by normalized kind and outcome.",
		}, []string{"provider", "kind", "outcome"}),
		JobRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run time.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveLimitDenied(counter string) {
	m.LimitDenials.WithLabelValues(counter).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if from == "" {
		from = "NONE"
	}
	m.SubscriptionChanges.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveWebhook(provider, kind, outcome string) {
	m.WebhooksTotal.WithLabelValues(provider, kind, outcome).Inc()
}

// ObserveJob counts a run. Skipped runs carry no duration.
func (m *Metrics) ObserveJob(name, outcome string, elapsed time.Duration) {
	m.JobRunsTotal.WithLabelValues(name, outcome).Inc()
	if outcome != "skipped" {
		m.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
