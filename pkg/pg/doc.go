// Package pg wraps pgx/v5 pooling, goose migrations and the transaction
// helpers the stores share.
//
// Tenant tables are protected by row level security. Code touching them runs
// inside WithTenantTx, which pins app.workspace_id for the transaction:
//
//	err := pg.WithTenantTx(ctx, pool, workspaceID, func(tx pgx.Tx) error {
//		_, err := tx.Exec(ctx, `DELETE FROM device_sessions WHERE device_id = $1`, id)
//		return err
//	})
//
// Connect retries until the database answers or ctx ends; Migrate applies the
// embedded schema with goose before the server starts.
package pg
