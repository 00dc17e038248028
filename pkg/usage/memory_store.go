package usage

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

type memoryRow struct {
	period   string
	counters Counters
	history  []PeriodUsage
}

// MemoryStore is a Store for tests and single-instance deployments.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*memoryRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*memoryRow)}
}

func (m *MemoryStore) row(workspaceID string) *memoryRow {
	r, ok := m.rows[workspaceID]
	if !ok {
		r = &memoryRow{counters: make(Counters)}
		m.rows[workspaceID] = r
	}
	return r
}

// rollover archives and zeroes monthly counters when r is behind period.
func (r *memoryRow) rollover(period string) bool {
	if r.period >= period {
		return false
	}
	if r.period != "" {
		for _, c := range subscription.MonthlyResources {
			if v := r.counters[c]; v != 0 {
				r.history = append(r.history, PeriodUsage{Period: r.period, Counter: c, Value: v})
			}
		}
	}
	for _, c := range subscription.MonthlyResources {
		delete(r.counters, c)
	}
	r.period = period
	return true
}

func (m *MemoryStore) Increment(_ context.Context, workspaceID string, counter subscription.Resource, delta, limit int64, period string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.row(workspaceID)
	r.rollover(period)
	current := r.counters[counter]
	if limit >= 0 && current+delta > limit {
		return current, false, nil
	}
	r.counters[counter] = current + delta
	return current + delta, true, nil
}

func (m *MemoryStore) Decrement(_ context.Context, workspaceID string, counter subscription.Resource, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.row(workspaceID)
	v := max(r.counters[counter]-delta, 0)
	r.counters[counter] = v
	return v, nil
}

func (m *MemoryStore) Get(_ context.Context, workspaceID, period string) (Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[workspaceID]
	if !ok {
		return Counters{}, nil
	}
	out := maps.Clone(r.counters)
	if r.period < period {
		for _, c := range subscription.MonthlyResources {
			delete(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) ResetMonthly(_ context.Context, workspaceID, period string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.row(workspaceID).rollover(period), nil
}

func (m *MemoryStore) Workspaces(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Collect(maps.Keys(m.rows))
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) History(_ context.Context, workspaceID string) ([]PeriodUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[workspaceID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(r.history), nil
}

func (m *MemoryStore) DeleteHistoryBefore(_ context.Context, period string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, r := range m.rows {
		kept := r.history[:0]
		for _, h := range r.history {
			if h.Period < period {
				removed++
				continue
			}
			kept = append(kept, h)
		}
		r.history = kept
	}
	return removed, nil
}
