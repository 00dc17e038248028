package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/workspacekit/pkg/pg"
)

// PGStore is a Store backed by the subscriptions and subscription_history tables.
type PGStore struct {
	db pg.DB
}

func NewPGStore(db pg.DB) *PGStore {
	return &PGStore{db: db}
}

const subscriptionColumns = `workspace_id, plan_code, status, billing_cycle, provider,
	external_subscription_id, external_customer_id, current_period_start, current_period_end,
	trial_ends_at, grace_period_ends_at, cancelled_at, failed_payment_count, trial_used,
	cancel_at_period_end, version, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		s             Subscription
		status, cycle string
	)
	err := row.Scan(
		&s.WorkspaceID, &s.PlanCode, &status, &cycle, &s.Provider,
		&s.ExternalSubscriptionID, &s.ExternalCustomerID, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.TrialEndsAt, &s.GracePeriodEndsAt, &s.CancelledAt, &s.FailedPaymentCount, &s.TrialUsed,
		&s.CancelAtPeriodEnd, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.Cycle = BillingCycle(cycle)
	return &s, nil
}

func (p *PGStore) Get(ctx context.Context, workspaceID string) (*Subscription, error) {
	s, err := scanSubscription(p.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE workspace_id = $1`, workspaceID))
	if pg.IsNotFoundError(err) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return s, nil
}

func (p *PGStore) Create(ctx context.Context, s *Subscription) error {
	_, err := p.db.Exec(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $17)`,
		s.WorkspaceID, s.PlanCode, string(s.Status), string(s.Cycle), s.Provider,
		s.ExternalSubscriptionID, s.ExternalCustomerID, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.TrialEndsAt, s.GracePeriodEndsAt, s.CancelledAt, s.FailedPaymentCount, s.TrialUsed,
		s.CancelAtPeriodEnd, s.CreatedAt, s.UpdatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return ErrSubscriptionExists
	}
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	s.Version = 1
	return nil
}

// Update performs a compare-and-swap on the version column. The loser of a
// race gets ErrVersionConflict and must re-read before deciding again.
func (p *PGStore) Update(ctx context.Context, s *Subscription, change Change) error {
	err := pg.InTx(ctx, p.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE subscriptions SET
			plan_code = $3, status = $4, billing_cycle = $5, provider = $6,
			external_subscription_id = $7, external_customer_id = $8,
			current_period_start = $9, current_period_end = $10, trial_ends_at = $11,
			grace_period_ends_at = $12, cancelled_at = $13, failed_payment_count = $14,
			trial_used = $15, cancel_at_period_end = $16, updated_at = $17,
			version = version + 1
			WHERE workspace_id = $1 AND version = $2`,
			s.WorkspaceID, s.Version,
			s.PlanCode, string(s.Status), string(s.Cycle), s.Provider,
			s.ExternalSubscriptionID, s.ExternalCustomerID,
			s.CurrentPeriodStart, s.CurrentPeriodEnd, s.TrialEndsAt,
			s.GracePeriodEndsAt, s.CancelledAt, s.FailedPaymentCount,
			s.TrialUsed, s.CancelAtPeriodEnd, s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE workspace_id = $1)`,
				s.WorkspaceID).Scan(&exists); err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
			if !exists {
				return ErrSubscriptionNotFound
			}
			return ErrVersionConflict
		}

		if change.From != change.To {
			if _, err := tx.Exec(ctx, `INSERT INTO subscription_history
				(workspace_id, from_status, to_status, plan_code, reason, version, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				s.WorkspaceID, string(change.From), string(change.To), change.PlanCode,
				change.Reason, s.Version+1, change.At,
			); err != nil {
				return fmt.Errorf("record subscription change: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Version++
	return nil
}

func (p *PGStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Subscription, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := p.db.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = ANY($1) ORDER BY workspace_id`, names)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PGStore) WorkspaceIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT workspace_id FROM subscriptions ORDER BY workspace_id`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return ids, nil
}

func (p *PGStore) History(ctx context.Context, workspaceID string) ([]Change, error) {
	rows, err := p.db.Query(ctx, `SELECT workspace_id, from_status, to_status, plan_code, reason, version, created_at
		FROM subscription_history WHERE workspace_id = $1 ORDER BY id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("subscription history: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			c        Change
			from, to string
			at       time.Time
		)
		if err := rows.Scan(&c.WorkspaceID, &from, &to, &c.PlanCode, &c.Reason, &c.Version, &at); err != nil {
			return nil, errors.Join(errors.New("scan subscription change"), err)
		}
		c.From, c.To, c.At = Status(from), Status(to), at
		out = append(out, c)
	}
	return out, rows.Err()
}
