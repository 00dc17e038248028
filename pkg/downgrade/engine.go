// Package downgrade runs the time-based subscription reconciliation jobs.
package downgrade

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

// Subscriptions is the part of *subscription.Service the engine drives.
type Subscriptions interface {
	DueForReconcile(ctx context.Context) ([]string, error)
	Reconcile(ctx context.Context, workspaceID string) (bool, error)
	ExpiredTrials(ctx context.Context) ([]string, error)
	ExpireTrial(ctx context.Context, workspaceID string) (bool, error)
}

// Engine walks subscriptions whose grace period, billing period or trial has
// elapsed and applies the matching transition. Each workspace is handled on
// its own; a failure is logged and the scan moves on, so the next run picks
// the workspace up again.
type Engine struct {
	subs Subscriptions
	log  *slog.Logger
}

func NewEngine(subs Subscriptions, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{subs: subs, log: log.With(logger.Component("downgrade"))}
}

// ProcessSubscriptionDowngrades reconciles every due subscription and returns
// how many changed status.
func (e *Engine) ProcessSubscriptionDowngrades(ctx context.Context) (int, error) {
	ids, err := e.subs.DueForReconcile(ctx)
	if err != nil {
		return 0, err
	}
	return e.each(ctx, "process_downgrades", ids, e.subs.Reconcile)
}

// ExpireTrials downgrades trials that ran out and returns how many changed.
func (e *Engine) ExpireTrials(ctx context.Context) (int, error) {
	ids, err := e.subs.ExpiredTrials(ctx)
	if err != nil {
		return 0, err
	}
	return e.each(ctx, "expire_trials", ids, e.subs.ExpireTrial)
}

func (e *Engine) each(ctx context.Context, job string, ids []string, apply func(context.Context, string) (bool, error)) (int, error) {
	changed := 0
	for _, ws := range ids {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		wctx := tenant.WithTenant(ctx, ws)
		ok, err := e.apply(wctx, ws, apply)
		if err != nil {
			e.log.ErrorContext(wctx, "subscription reconciliation failed",
				logger.Job(job),
				logger.WorkspaceID(ws),
				logger.Error(err),
			)
			continue
		}
		if ok {
			changed++
		}
	}
	if len(ids) > 0 {
		e.log.InfoContext(ctx, "subscription reconciliation finished",
			logger.Job(job),
			slog.Int("candidates", len(ids)),
			slog.Int("changed", changed),
		)
	}
	return changed, nil
}

// apply converts a panic in one workspace into an error for that workspace.
func (e *Engine) apply(ctx context.Context, ws string, fn func(context.Context, string) (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx, ws)
}
