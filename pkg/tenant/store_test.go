package tenant_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

type invoice struct {
	ID        string
	Workspace string
	Total     int
}

func (i *invoice) Tenant() string { return i.Workspace }
func (i *invoice) AssignTenant(ws string) { i.Workspace = ws }

func TestStampOverridesCallerTenant(t *testing.T) {
	t.Parallel()

	ctx := tenant.WithTenant(context.Background(), "A")
	inv := &invoice{ID: "1", Workspace: "B"}
	require.NoError(t, tenant.Stamp(ctx, inv))
	assert.Equal(t, "A", inv.Workspace)

	visible, err := tenant.Visible(ctx, &invoice{Workspace: "B"})
	require.NoError(t, err)
	assert.False(t, visible)

	assert.ErrorIs(t, tenant.Stamp(context.Background(), inv), tenant.ErrNoTenantContext)
}

func TestScopedStoreIsolation(t *testing.T) {
	t.Parallel()

	store := tenant.NewScopedStore[invoice]()
	workspaces := []string{"A", "B", "C"}

	for _, ws := range workspaces {
		ctx := tenant.WithTenant(context.Background(), ws)
		for i := range 3 {
			// Callers lie about the owner; the store must ignore it.
			err := store.Put(ctx, fmt.Sprintf("%s-%d", ws, i), invoice{Workspace: "B", Total: i})
			require.NoError(t, err)
		}
	}

	for _, a := range workspaces {
		ctx := tenant.WithTenant(context.Background(), a)
		rows, err := store.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
		for _, row := range rows {
			assert.Equal(t, a, row.Workspace)
		}

		for _, b := range workspaces {
			if a == b {
				continue
			}
			_, err := store.Get(ctx, b+"-0")
			assert.ErrorIs(t, err, tenant.ErrRecordNotFound)
			assert.ErrorIs(t, store.Delete(ctx, b+"-0"), tenant.ErrRecordNotFound)
		}
	}

	assert.Equal(t, workspaces, store.Workspaces())
}

func TestScopedStoreWithoutTenant(t *testing.T) {
	t.Parallel()

	store := tenant.NewScopedStore[invoice]()
	ctx := context.Background()

	assert.ErrorIs(t, store.Put(ctx, "1", invoice{}), tenant.ErrNoTenantContext)
	_, err := store.Get(ctx, "1")
	assert.ErrorIs(t, err, tenant.ErrNoTenantContext)
	_, err = store.List(ctx, nil)
	assert.ErrorIs(t, err, tenant.ErrNoTenantContext)
	assert.ErrorIs(t, store.Delete(ctx, "1"), tenant.ErrNoTenantContext)
}

func TestScopedStoreListFilter(t *testing.T) {
	t.Parallel()

	store := tenant.NewScopedStore[invoice]()
	ctx := tenant.WithTenant(context.Background(), "A")
	require.NoError(t, store.Put(ctx, "1", invoice{ID: "1", Total: 10}))
	require.NoError(t, store.Put(ctx, "2", invoice{ID: "2", Total: 200}))

	big, err := store.List(ctx, func(i invoice) bool { return i.Total > 100 })
	require.NoError(t, err)
	require.Len(t, big, 1)
	assert.Equal(t, "2", big[0].ID)

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	got.Total = 999
	again, _ := store.Get(ctx, "1")
	assert.Equal(t, 10, again.Total)
}
