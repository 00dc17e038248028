package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

// MemoryStore keeps sessions in a tenant.ScopedStore.
type MemoryStore struct {
	mu   sync.Mutex
	rows *tenant.ScopedStore[Session, *Session]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: tenant.NewScopedStore[Session, *Session]()}
}

func isActive(s Session) bool { return s.Active }

func (m *MemoryStore) Register(ctx context.Context, s Session, limit int64) (Session, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.rows.List(ctx, isActive)
	if err != nil {
		return Session{}, 0, err
	}
	count := int64(len(active))

	existing, err := m.rows.Get(ctx, s.DeviceID)
	switch {
	case errors.Is(err, tenant.ErrRecordNotFound):
	case err != nil:
		return Session{}, 0, err
	default:
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
		if existing.Active {
			if err := m.rows.Put(ctx, s.DeviceID, s); err != nil {
				return Session{}, 0, err
			}
			return m.stored(ctx, s.DeviceID, count)
		}
	}

	if limit >= 0 && count >= limit {
		return Session{}, count, ErrDeviceLimitExceeded
	}
	if err := m.rows.Put(ctx, s.DeviceID, s); err != nil {
		return Session{}, 0, err
	}
	return m.stored(ctx, s.DeviceID, count+1)
}

func (m *MemoryStore) stored(ctx context.Context, deviceID string, count int64) (Session, int64, error) {
	s, err := m.rows.Get(ctx, deviceID)
	return s, count, err
}

func (m *MemoryStore) Get(ctx context.Context, deviceID string) (Session, error) {
	s, err := m.rows.Get(ctx, deviceID)
	if errors.Is(err, tenant.ErrRecordNotFound) {
		return Session{}, ErrDeviceNotFound
	}
	return s, err
}

func (m *MemoryStore) Update(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.Get(ctx, s.DeviceID); err != nil {
		return err
	}
	return m.rows.Put(ctx, s.DeviceID, s)
}

func (m *MemoryStore) List(ctx context.Context) ([]Session, error) {
	return m.rows.List(ctx, nil)
}

func (m *MemoryStore) DeactivateAll(ctx context.Context, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.rows.List(ctx, isActive)
	if err != nil {
		return 0, err
	}
	for _, s := range active {
		s.Active = false
		s.DeactivatedAt = &at
		if err := m.rows.Put(ctx, s.DeviceID, s); err != nil {
			return 0, err
		}
	}
	return len(active), nil
}

func (m *MemoryStore) Workspaces(context.Context) ([]string, error) {
	return m.rows.Workspaces(), nil
}
