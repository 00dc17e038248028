package db_test

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workspacekit/internal/db"
)

func TestMigrationsAreWellFormed(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(db.Migrations, db.Dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		t.Run(e.Name(), func(t *testing.T) {
			t.Parallel()
			body, err := fs.ReadFile(db.Migrations, db.Dir+"/"+e.Name())
			require.NoError(t, err)
			assert.Contains(t, string(body), "-- +goose Up")
			assert.Contains(t, string(body), "-- +goose Down")
		})
	}
}

func TestDeviceSessionsAreTenantIsolated(t *testing.T) {
	t.Parallel()

	body, err := fs.ReadFile(db.Migrations, db.Dir+"/00003_tenant_row_security.sql")
	require.NoError(t, err)
	sql := string(body)
	assert.True(t, strings.Contains(sql, "FORCE ROW LEVEL SECURITY"))
	assert.Contains(t, sql, "current_setting('app.workspace_id', true)")
}
