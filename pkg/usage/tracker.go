package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

// LimitSource resolves the quota of a counter for a workspace.
// *subscription.Service implements it.
type LimitSource interface {
	Limit(ctx context.Context, workspaceID string, r subscription.Resource) (limit int64, soft bool, err error)
}

// ActiveCounter reports a cumulative counter that another component owns,
// such as the active device sessions of a workspace.
type ActiveCounter interface {
	ActiveCount(ctx context.Context, workspaceID string) (int64, error)
}

// Metrics receives limit denials.
type Metrics interface {
	ObserveLimitDenied(counter string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveLimitDenied(string) {}

// Tracker counts resource usage against plan quotas.
type Tracker struct {
	store           Store
	limits          LimitSource
	warningPercent  int64
	retentionMonths int
	owned           map[subscription.Resource]ActiveCounter
	metrics         Metrics
	log             *slog.Logger
	now             func() time.Time
}

type Option func(*Tracker)

func WithConfig(cfg Config) Option {
	return func(t *Tracker) {
		if cfg.WarningPercent > 0 {
			t.warningPercent = int64(cfg.WarningPercent)
		}
		if cfg.RetentionMonths > 0 {
			t.retentionMonths = cfg.RetentionMonths
		}
	}
}

// WithActiveCounter makes Snapshot and CheckLimit read counter from c
// instead of the store.
func WithActiveCounter(counter subscription.Resource, c ActiveCounter) Option {
	return func(t *Tracker) {
		if c != nil {
			t.owned[counter] = c
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(store Store, limits LimitSource, opts ...Option) *Tracker {
	t := &Tracker{
		store:           store,
		limits:          limits,
		warningPercent:  80,
		retentionMonths: 12,
		owned:           make(map[subscription.Resource]ActiveCounter),
		metrics:         noopMetrics{},
		log:             slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logger.Component("usage"))
	return t
}

// IncrementUsage adds delta to counter for workspaceID and returns the new
// value. It fails with a *LimitError, before changing anything, when the new
// value would pass a hard limit of the workspace's plan. Soft limits are
// only logged.
func (t *Tracker) IncrementUsage(ctx context.Context, workspaceID string, counter subscription.Resource, delta int64) (int64, error) {
	if !counter.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCounter, counter)
	}
	if delta <= 0 {
		return 0, ErrInvalidDelta
	}
	limit, soft, err := t.limits.Limit(ctx, workspaceID, counter)
	if err != nil {
		return 0, err
	}

	enforced := limit
	if soft {
		enforced = subscription.Unlimited
	}
	value, ok, err := t.store.Increment(ctx, workspaceID, counter, delta, enforced, Period(t.now()))
	if err != nil {
		return 0, err
	}
	if !ok {
		t.metrics.ObserveLimitDenied(string(counter))
		t.log.InfoContext(ctx, "usage limit reached",
			logger.WorkspaceID(workspaceID),
			logger.Counter(string(counter)),
			slog.Int64("current", value),
			slog.Int64("limit", limit),
		)
		return value, &LimitError{Counter: counter, Current: value, Limit: limit, Requested: delta}
	}

	t.warn(ctx, workspaceID, counter, value-delta, value, limit, soft)
	return value, nil
}

func (t *Tracker) warn(ctx context.Context, workspaceID string, counter subscription.Resource, before, after, limit int64, soft bool) {
	if limit <= 0 {
		return
	}
	switch {
	case soft && after > limit && before <= limit:
		t.log.WarnContext(ctx, "soft usage limit exceeded",
			logger.WorkspaceID(workspaceID),
			logger.Counter(string(counter)),
			slog.Int64("current", after),
			slog.Int64("limit", limit),
		)
	case after*100 >= limit*t.warningPercent && before*100 < limit*t.warningPercent:
		t.log.WarnContext(ctx, "usage approaching limit",
			logger.WorkspaceID(workspaceID),
			logger.Counter(string(counter)),
			slog.Int64("current", after),
			slog.Int64("limit", limit),
		)
	}
}

// Decrement lowers a cumulative counter, for example after a customer was
// deleted. The counter never drops below zero.
func (t *Tracker) Decrement(ctx context.Context, workspaceID string, counter subscription.Resource, delta int64) (int64, error) {
	if !counter.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCounter, counter)
	}
	if counter.Monthly() {
		return 0, fmt.Errorf("%w: %s", ErrNotCumulative, counter)
	}
	if delta <= 0 {
		return 0, ErrInvalidDelta
	}
	return t.store.Decrement(ctx, workspaceID, counter, delta)
}

// CheckLimit reports whether requested more units of counter would fit
// without recording anything.
func (t *Tracker) CheckLimit(ctx context.Context, workspaceID string, counter subscription.Resource, requested int64) error {
	limit, soft, err := t.limits.Limit(ctx, workspaceID, counter)
	if err != nil {
		return err
	}
	if soft || limit == subscription.Unlimited {
		return nil
	}
	counters, err := t.counters(ctx, workspaceID)
	if err != nil {
		return err
	}
	if current := counters[counter]; current+requested > limit {
		return &LimitError{Counter: counter, Current: current, Limit: limit, Requested: requested}
	}
	return nil
}

// CounterUsage is one line of a usage snapshot.
type CounterUsage struct {
	Counter subscription.Resource `json:"counter"`
	Used    int64                 `json:"used"`
	Limit   int64                 `json:"limit"`
	Monthly bool                  `json:"monthly"`
	Soft    bool                  `json:"soft"`
	Percent float64               `json:"percent"`
	Warning bool                  `json:"warning"`
}

// Snapshot returns every counter of workspaceID with its limit, monthly
// counters first.
func (t *Tracker) Snapshot(ctx context.Context, workspaceID string) ([]CounterUsage, error) {
	counters, err := t.counters(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	all := append(append([]subscription.Resource{}, subscription.MonthlyResources...), subscription.CumulativeResources...)
	out := make([]CounterUsage, 0, len(all))
	for _, c := range all {
		limit, soft, err := t.limits.Limit(ctx, workspaceID, c)
		if err != nil {
			return nil, err
		}
		u := CounterUsage{Counter: c, Used: counters[c], Limit: limit, Monthly: c.Monthly(), Soft: soft}
		if limit > 0 {
			u.Percent = float64(u.Used) * 100 / float64(limit)
			u.Warning = u.Used*100 >= limit*t.warningPercent
		}
		out = append(out, u)
	}
	return out, nil
}

// counters reads the stored counters of workspaceID and overlays the ones
// owned by other components.
func (t *Tracker) counters(ctx context.Context, workspaceID string) (Counters, error) {
	counters, err := t.store.Get(ctx, workspaceID, Period(t.now()))
	if err != nil {
		return nil, err
	}
	if len(t.owned) == 0 {
		return counters, nil
	}
	out := make(Counters, len(counters)+len(t.owned))
	for k, v := range counters {
		out[k] = v
	}
	for counter, c := range t.owned {
		n, err := c.ActiveCount(ctx, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", counter, err)
		}
		out[counter] = n
	}
	return out, nil
}

// ResetMonthlyCounters rolls every workspace over to the current period and
// returns how many were reset. Running it again in the same period resets
// nothing. Failures are logged per workspace and do not stop the batch.
func (t *Tracker) ResetMonthlyCounters(ctx context.Context) (int, error) {
	ids, err := t.store.Workspaces(ctx)
	if err != nil {
		return 0, err
	}
	period := Period(t.now())
	reset := 0
	for _, ws := range ids {
		if ctx.Err() != nil {
			return reset, ctx.Err()
		}
		ok, err := t.store.ResetMonthly(ctx, ws, period)
		if err != nil {
			t.log.ErrorContext(ctx, "failed to reset monthly counters",
				logger.WorkspaceID(ws),
				logger.Error(err),
			)
			continue
		}
		if ok {
			reset++
		}
	}
	return reset, nil
}

// DeleteOldPeriods drops archived monthly usage older than the retention window.
func (t *Tracker) DeleteOldPeriods(ctx context.Context) (int, error) {
	cutoff := Period(t.now().AddDate(0, -t.retentionMonths, 0))
	return t.store.DeleteHistoryBefore(ctx, cutoff)
}

// History returns archived monthly usage of workspaceID.
func (t *Tracker) History(ctx context.Context, workspaceID string) ([]PeriodUsage, error) {
	return t.store.History(ctx, workspaceID)
}
