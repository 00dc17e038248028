package device

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/workspacekit/pkg/pg"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

// PGStore keeps sessions in device_sessions. The table has a row level
// security policy on app.workspace_id; every query runs in pg.WithTenantTx
// with the workspace taken from ctx, so a query can only touch that
// workspace's rows.
type PGStore struct {
	db pg.DB
}

func NewPGStore(db pg.DB) *PGStore {
	return &PGStore{db: db}
}

const sessionColumns = `id, workspace_id, device_id, user_id, name, platform, active,
	token_issued_at, token_expires_at, last_sync_at, created_at, deactivated_at`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.DeviceID, &s.UserID, &s.Name, &s.Platform, &s.Active,
		&s.TokenIssuedAt, &s.TokenExpiresAt, &s.LastSyncAt, &s.CreatedAt, &s.DeactivatedAt)
	return s, err
}

func (p *PGStore) tx(ctx context.Context, fn func(tx pgx.Tx, workspaceID string) error) error {
	workspaceID, err := tenant.Predicate(ctx)
	if err != nil {
		return err
	}
	return pg.WithTenantTx(ctx, p.db, workspaceID, func(tx pgx.Tx) error {
		return fn(tx, workspaceID)
	})
}

func (p *PGStore) Register(ctx context.Context, s Session, limit int64) (Session, int64, error) {
	var (
		out   Session
		count int64
	)
	err := p.tx(ctx, func(tx pgx.Tx, workspaceID string) error {
		if err := tenant.Stamp(ctx, &s); err != nil {
			return err
		}
		// Serializes registrations of one workspace; the lock ends with the tx.
		if err := pg.AdvisoryXactLock(ctx, tx, "device_sessions:"+workspaceID); err != nil {
			return fmt.Errorf("lock devices: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM device_sessions WHERE active`).Scan(&count); err != nil {
			return fmt.Errorf("count devices: %w", err)
		}

		var existingActive bool
		err := tx.QueryRow(ctx, `SELECT active FROM device_sessions WHERE device_id = $1`, s.DeviceID).Scan(&existingActive)
		switch {
		case pg.IsNotFoundError(err):
		case err != nil:
			return fmt.Errorf("find device: %w", err)
		}
		if !existingActive {
			if limit >= 0 && count >= limit {
				return ErrDeviceLimitExceeded
			}
			count++
		}

		row := tx.QueryRow(ctx, `INSERT INTO device_sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, $10, NULL)
			ON CONFLICT (workspace_id, device_id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				name = EXCLUDED.name,
				platform = EXCLUDED.platform,
				active = TRUE,
				token_issued_at = EXCLUDED.token_issued_at,
				token_expires_at = EXCLUDED.token_expires_at,
				last_sync_at = EXCLUDED.last_sync_at,
				deactivated_at = NULL
			RETURNING `+sessionColumns,
			s.ID, s.WorkspaceID, s.DeviceID, s.UserID, s.Name, s.Platform,
			s.TokenIssuedAt, s.TokenExpiresAt, s.LastSyncAt, s.CreatedAt,
		)
		out, err = scanSession(row)
		if err != nil {
			return fmt.Errorf("save device: %w", err)
		}
		return nil
	})
	if err != nil {
		return Session{}, count, err
	}
	return out, count, nil
}

func (p *PGStore) Get(ctx context.Context, deviceID string) (Session, error) {
	var s Session
	err := p.tx(ctx, func(tx pgx.Tx, _ string) error {
		var err error
		s, err = scanSession(tx.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM device_sessions WHERE device_id = $1`, deviceID))
		return err
	})
	if pg.IsNotFoundError(err) {
		return Session{}, ErrDeviceNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get device: %w", err)
	}
	return s, nil
}

func (p *PGStore) Update(ctx context.Context, s Session) error {
	return p.tx(ctx, func(tx pgx.Tx, _ string) error {
		if err := tenant.Stamp(ctx, &s); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE device_sessions SET
			user_id = $3, name = $4, platform = $5, active = $6,
			token_issued_at = $7, token_expires_at = $8, last_sync_at = $9, deactivated_at = $10
			WHERE workspace_id = $1 AND device_id = $2`,
			s.WorkspaceID, s.DeviceID, s.UserID, s.Name, s.Platform, s.Active,
			s.TokenIssuedAt, s.TokenExpiresAt, s.LastSyncAt, s.DeactivatedAt,
		)
		if err != nil {
			return fmt.Errorf("update device: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDeviceNotFound
		}
		return nil
	})
}

func (p *PGStore) List(ctx context.Context) ([]Session, error) {
	var out []Session
	err := p.tx(ctx, func(tx pgx.Tx, _ string) error {
		rows, err := tx.Query(ctx, `SELECT `+sessionColumns+` FROM device_sessions ORDER BY device_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			s, err := scanSession(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return out, nil
}

func (p *PGStore) DeactivateAll(ctx context.Context, at time.Time) (int, error) {
	var n int64
	err := p.tx(ctx, func(tx pgx.Tx, _ string) error {
		tag, err := tx.Exec(ctx, `UPDATE device_sessions SET active = FALSE, deactivated_at = $1 WHERE active`, at)
		n = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deactivate devices: %w", err)
	}
	return int(n), nil
}

func (p *PGStore) Workspaces(ctx context.Context) ([]string, error) {
	var ids []string
	err := pg.WithAdminTx(ctx, p.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT DISTINCT workspace_id FROM device_sessions ORDER BY workspace_id`)
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list device workspaces: %w", err)
	}
	return ids, nil
}
