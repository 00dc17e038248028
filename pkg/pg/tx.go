package pg

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the stores use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InTx runs fn inside a transaction and commits when fn returns nil.
func InTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WithTenantTx runs fn in a transaction whose app.workspace_id setting is
// workspaceID. Row level security policies on tenant tables compare against
// that setting, so fn cannot read or write another workspace's rows.
func WithTenantTx(ctx context.Context, db DB, workspaceID string, fn func(tx pgx.Tx) error) error {
	if workspaceID == "" {
		return ErrMissingTenant
	}
	return InTx(ctx, db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.workspace_id', $1, true)`, workspaceID); err != nil {
			return errors.Join(errors.New("set tenant"), err)
		}
		return fn(tx)
	})
}

// AdvisoryXactLock takes a transaction scoped advisory lock on key. The lock
// is released on commit or rollback.
func AdvisoryXactLock(ctx context.Context, tx pgx.Tx, key string) error {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(h.Sum64()))
	return err
}

// WithAdminTx runs fn in a transaction that row level security lets see every
// workspace. Only batch jobs that then re-scope per workspace should use it.
func WithAdminTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) error {
	return InTx(ctx, db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.bypass_tenant', 'on', true)`); err != nil {
			return errors.Join(errors.New("set admin scope"), err)
		}
		return fn(tx)
	})
}
