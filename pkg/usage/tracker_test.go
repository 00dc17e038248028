package usage_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
	"github.com/dmitrymomot/workspacekit/pkg/usage"
)

type staticLimits map[subscription.Resource]int64

func (s staticLimits) Limit(_ context.Context, _ string, r subscription.Resource) (int64, bool, error) {
	limit, ok := s[r]
	if !ok {
		return subscription.Unlimited, false, nil
	}
	return limit, r == subscription.ResourceStorage, nil
}

type denials struct{ n atomic.Int64 }

func (d *denials) ObserveLimitDenied(string) { d.n.Add(1) }

func newTracker(t *testing.T, store usage.Store, limits usage.LimitSource, now time.Time) *usage.Tracker {
	t.Helper()
	return usage.NewTracker(store, limits,
		usage.WithClock(func() time.Time { return now }),
		usage.WithLogger(logger.Discard()),
	)
}

func TestIncrementUsage_ProfessionalInvoiceRace(t *testing.T) {
	t.Parallel()
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			subs := subscription.NewService(subscription.NewMemoryStore(), subscription.DefaultCatalog(),
				subscription.WithLogger(logger.Discard()))
			_, err := subs.Activate(ctx, "W", subscription.ActivateInput{PlanCode: subscription.PlanProfessional})
			require.NoError(t, err)

			d := &denials{}
			tracker := usage.NewTracker(newStore(t), subs,
				usage.WithMetrics(d),
				usage.WithLogger(logger.Discard()),
			)
			v, err := tracker.IncrementUsage(ctx, "W", subscription.ResourceInvoices, 99)
			require.NoError(t, err)
			require.Equal(t, int64(99), v)

			var (
				wg       sync.WaitGroup
				success  atomic.Int64
				limitErr atomic.Pointer[usage.LimitError]
			)
			for range 2 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := tracker.IncrementUsage(ctx, "W", subscription.ResourceInvoices, 1)
					if err == nil {
						success.Add(1)
						return
					}
					var le *usage.LimitError
					if assert.ErrorAs(t, err, &le) {
						limitErr.Store(le)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int64(1), success.Load())
			le := limitErr.Load()
			require.NotNil(t, le)
			assert.ErrorIs(t, le, usage.ErrLimitExceeded)
			assert.Equal(t, subscription.ResourceInvoices, le.Counter)
			assert.Equal(t, int64(100), le.Current)
			assert.Equal(t, int64(100), le.Limit)
			assert.Equal(t, int64(1), d.n.Load())

			snapshot, err := tracker.Snapshot(ctx, "W")
			require.NoError(t, err)
			for _, u := range snapshot {
				if u.Counter == subscription.ResourceInvoices {
					assert.Equal(t, int64(100), u.Used)
					assert.InDelta(t, 100.0, u.Percent, 0.001)
					assert.True(t, u.Warning)
				}
			}
		})
	}
}

func TestIncrementUsage_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker := newTracker(t, usage.NewMemoryStore(), staticLimits{}, time.Now())

	_, err := tracker.IncrementUsage(ctx, "ws-1", "widgets", 1)
	assert.ErrorIs(t, err, usage.ErrUnknownCounter)

	_, err = tracker.IncrementUsage(ctx, "ws-1", subscription.ResourceOrders, 0)
	assert.ErrorIs(t, err, usage.ErrInvalidDelta)

	_, err = tracker.Decrement(ctx, "ws-1", subscription.ResourceOrders, 1)
	assert.ErrorIs(t, err, usage.ErrNotCumulative)
}

func TestIncrementUsage_LimitSourceError(t *testing.T) {
	t.Parallel()
	boom := errors.New("plan lookup failed")
	tracker := newTracker(t, usage.NewMemoryStore(), limitFunc(func() error { return boom }), time.Now())

	_, err := tracker.IncrementUsage(context.Background(), "ws-1", subscription.ResourceOrders, 1)
	assert.ErrorIs(t, err, boom)
}

type limitFunc func() error

func (f limitFunc) Limit(context.Context, string, subscription.Resource) (int64, bool, error) {
	return 0, false, f()
}

func TestIncrementUsage_SoftLimitOnlyWarns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker := newTracker(t, usage.NewMemoryStore(), staticLimits{subscription.ResourceStorage: 100}, time.Now())

	v, err := tracker.IncrementUsage(ctx, "ws-1", subscription.ResourceStorage, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(150), v)

	require.NoError(t, tracker.CheckLimit(ctx, "ws-1", subscription.ResourceStorage, 1000))
}

func TestCheckLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker := newTracker(t, usage.NewMemoryStore(), staticLimits{subscription.ResourceCustomers: 5}, time.Now())

	_, err := tracker.IncrementUsage(ctx, "ws-1", subscription.ResourceCustomers, 4)
	require.NoError(t, err)

	require.NoError(t, tracker.CheckLimit(ctx, "ws-1", subscription.ResourceCustomers, 1))
	err = tracker.CheckLimit(ctx, "ws-1", subscription.ResourceCustomers, 2)
	var le *usage.LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, int64(4), le.Current)
	assert.Equal(t, int64(2), le.Requested)

	v, err := tracker.Decrement(ctx, "ws-1", subscription.ResourceCustomers, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

type activeCounter struct {
	n   map[string]int64
	err error
}

func (a activeCounter) ActiveCount(_ context.Context, ws string) (int64, error) {
	return a.n[ws], a.err
}

func TestActiveCounterOverridesStoredCounter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now()
	limits := staticLimits{subscription.ResourceDevices: 3}

	store := usage.NewMemoryStore()
	tracker := usage.NewTracker(store, limits,
		usage.WithActiveCounter(subscription.ResourceDevices, activeCounter{n: map[string]int64{"W": 2}}),
		usage.WithClock(func() time.Time { return now }),
		usage.WithLogger(logger.Discard()),
	)

	snapshot, err := tracker.Snapshot(ctx, "W")
	require.NoError(t, err)
	var devices usage.CounterUsage
	for _, row := range snapshot {
		if row.Counter == subscription.ResourceDevices {
			devices = row
		}
	}
	assert.Equal(t, int64(2), devices.Used)
	assert.Equal(t, int64(3), devices.Limit)

	require.NoError(t, tracker.CheckLimit(ctx, "W", subscription.ResourceDevices, 1))
	var le *usage.LimitError
	require.ErrorAs(t, tracker.CheckLimit(ctx, "W", subscription.ResourceDevices, 2), &le)
	assert.Equal(t, int64(2), le.Current)

	boom := errors.New("store down")
	failing := usage.NewTracker(store, limits,
		usage.WithActiveCounter(subscription.ResourceDevices, activeCounter{err: boom}),
		usage.WithLogger(logger.Discard()),
	)
	_, err = failing.Snapshot(ctx, "W")
	assert.ErrorIs(t, err, boom)
}

func TestResetMonthlyCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := usage.NewMemoryStore()
	limits := staticLimits{subscription.ResourceInvoices: 10}
	march := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)

	tracker := newTracker(t, store, limits, march)
	for _, ws := range []string{"a", "b", "c"} {
		_, err := tracker.IncrementUsage(ctx, ws, subscription.ResourceInvoices, 10)
		require.NoError(t, err)
		_, err = tracker.IncrementUsage(ctx, ws, subscription.ResourceCustomers, 3)
		require.NoError(t, err)
	}

	n, err := tracker.ResetMonthlyCounters(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing rolls over inside the period")

	april := newTracker(t, store, limits, time.Date(2025, 4, 1, 0, 5, 0, 0, time.UTC))
	n, err = april.ResetMonthlyCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = april.ResetMonthlyCounters(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second run in the same period is a no-op")

	for _, ws := range []string{"a", "b", "c"} {
		snapshot, err := april.Snapshot(ctx, ws)
		require.NoError(t, err)
		for _, u := range snapshot {
			switch u.Counter {
			case subscription.ResourceInvoices:
				assert.Zero(t, u.Used)
			case subscription.ResourceCustomers:
				assert.Equal(t, int64(3), u.Used, "cumulative counters survive the reset")
			}
		}
	}

	_, err = april.IncrementUsage(ctx, "a", subscription.ResourceInvoices, 10)
	require.NoError(t, err, "full quota is available again")

	history, err := april.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2025-03", history[0].Period)

	later := newTracker(t, store, limits, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	removed, err := later.DeleteOldPeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}
