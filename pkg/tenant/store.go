package tenant

import (
	"context"
	"sort"
	"sync"
)

// ScopedPtr constrains PT to a pointer to T that implements Scoped.
type ScopedPtr[T any] interface {
	*T
	Scoped
}

// ScopedStore is an in-memory table of tenant-owned rows. Every method takes
// the workspace from ctx: writes are stamped, reads only see the caller's rows.
// Values are copied in and out.
type ScopedStore[T any, PT ScopedPtr[T]] struct {
	mu   sync.RWMutex
	rows map[string]map[string]T
}

func NewScopedStore[T any, PT ScopedPtr[T]]() *ScopedStore[T, PT] {
	return &ScopedStore[T, PT]{rows: make(map[string]map[string]T)}
}

// Put inserts or replaces the row with id in the caller's workspace.
func (s *ScopedStore[T, PT]) Put(ctx context.Context, id string, v T) error {
	if err := Stamp(ctx, PT(&v)); err != nil {
		return err
	}
	workspaceID := PT(&v).Tenant()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[workspaceID] == nil {
		s.rows[workspaceID] = make(map[string]T)
	}
	s.rows[workspaceID][id] = v
	return nil
}

// Get returns the row with id, or ErrRecordNotFound when it does not exist in
// the caller's workspace.
func (s *ScopedStore[T, PT]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	workspaceID, err := Predicate(ctx)
	if err != nil {
		return zero, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows[workspaceID][id]
	if !ok {
		return zero, ErrRecordNotFound
	}
	return v, nil
}

// List returns the caller's rows ordered by id, optionally filtered by match.
func (s *ScopedStore[T, PT]) List(ctx context.Context, match func(T) bool) ([]T, error) {
	workspaceID, err := Predicate(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rows[workspaceID]))
	for id := range s.rows[workspaceID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v := s.rows[workspaceID][id]
		if match == nil || match(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Delete removes the row with id from the caller's workspace.
func (s *ScopedStore[T, PT]) Delete(ctx context.Context, id string) error {
	workspaceID, err := Predicate(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[workspaceID][id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.rows[workspaceID], id)
	return nil
}

// Workspaces lists every workspace holding rows. It is an administrative,
// cross-tenant read for batch jobs; pair it with WithTenant per workspace.
func (s *ScopedStore[T, PT]) Workspaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rows))
	for ws, rows := range s.rows {
		if len(rows) > 0 {
			out = append(out, ws)
		}
	}
	sort.Strings(out)
	return out
}
