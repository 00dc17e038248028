package subscription

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	rows    map[string]*Subscription
	history map[string][]Change
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:    make(map[string]*Subscription),
		history: make(map[string][]Change),
	}
}

func (m *MemoryStore) Get(_ context.Context, workspaceID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rows[workspaceID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Create(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.WorkspaceID]; ok {
		return ErrSubscriptionExists
	}
	s.Version = 1
	m.rows[s.WorkspaceID] = s.Clone()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, s *Subscription, change Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[s.WorkspaceID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if current.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	m.rows[s.WorkspaceID] = s.Clone()
	if change.From != change.To {
		change.Version = s.Version
		m.history[s.WorkspaceID] = append(m.history[s.WorkspaceID], change)
	}
	return nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, statuses ...Status) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0)
	for _, s := range m.rows {
		if slices.Contains(statuses, s.Status) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkspaceID < out[j].WorkspaceID })
	return out, nil
}

func (m *MemoryStore) WorkspaceIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) History(_ context.Context, workspaceID string) ([]Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history[workspaceID]), nil
}
