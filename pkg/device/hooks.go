package device

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

// RevokeOnCancellation returns a subscription publisher that ends every
// device session of a workspace whose subscription became CANCELLED or
// EXPIRED.
func (r *Registry) RevokeOnCancellation() subscription.Publisher {
	return subscription.PublisherFunc(func(ctx context.Context, e subscription.Event) error {
		if e.From == e.To || (e.To != subscription.StatusCancelled && e.To != subscription.StatusExpired) {
			return nil
		}
		n, err := r.DeactivateAll(ctx, e.WorkspaceID)
		if err != nil {
			return err
		}
		if n > 0 {
			r.log.InfoContext(ctx, "devices revoked",
				logger.WorkspaceID(e.WorkspaceID),
				slog.String("status", string(e.To)),
				slog.Int("devices", n),
			)
		}
		return nil
	})
}
