package usage

import (
	"context"
	"time"

	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

const periodLayout = "2006-01"

// Period returns the monthly period marker for t, for example "2025-03".
// Markers sort lexically in time order.
func Period(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// Counters maps a counter to its current value.
type Counters map[subscription.Resource]int64

// PeriodUsage is the archived value of a monthly counter for a closed period.
type PeriodUsage struct {
	Period  string
	Counter subscription.Resource
	Value   int64
}

// Store keeps per-workspace counters.
//
// Monthly counters belong to a period. Whenever a store operation sees a
// workspace whose marker is older than the period it was given, it archives
// the monthly values, zeroes them and moves the marker forward in the same
// atomic step. A reset therefore happens at most once per period no matter
// how many callers race on the rollover.
type Store interface {
	// Increment adds delta to counter if the result stays within limit.
	// A negative limit means unlimited. When the increment is rejected ok is
	// false and value is the unchanged current value.
	Increment(ctx context.Context, workspaceID string, counter subscription.Resource, delta, limit int64, period string) (value int64, ok bool, err error)

	// Decrement subtracts delta from counter, never going below zero.
	Decrement(ctx context.Context, workspaceID string, counter subscription.Resource, delta int64) (int64, error)

	// Get returns the counters of a workspace as seen in period.
	Get(ctx context.Context, workspaceID, period string) (Counters, error)

	// ResetMonthly rolls the workspace over to period and reports whether a
	// reset happened. It is a no-op when the marker already equals period.
	ResetMonthly(ctx context.Context, workspaceID, period string) (bool, error)

	// Workspaces lists every workspace with counters.
	Workspaces(ctx context.Context) ([]string, error)

	// History returns archived monthly usage of a workspace, oldest first.
	History(ctx context.Context, workspaceID string) ([]PeriodUsage, error)

	// DeleteHistoryBefore drops archived periods older than period and
	// returns how many entries were removed.
	DeleteHistoryBefore(ctx context.Context, period string) (int, error)
}
