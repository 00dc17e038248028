package subscription

import "context"

// Store persists one current subscription per workspace.
type Store interface {
	// Get returns the workspace's subscription or ErrSubscriptionNotFound.
	Get(ctx context.Context, workspaceID string) (*Subscription, error)

	// Create inserts a new subscription with Version 1.
	// Returns ErrSubscriptionExists when the workspace already has one.
	Create(ctx context.Context, s *Subscription) error

	// Update writes s if the stored Version still equals s.Version and
	// increments it; otherwise it returns ErrVersionConflict. The change is
	// appended to the workspace history in the same write.
	Update(ctx context.Context, s *Subscription, change Change) error

	// ListByStatus returns the subscriptions in any of statuses.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Subscription, error)

	// WorkspaceIDs returns every workspace that has a subscription.
	WorkspaceIDs(ctx context.Context) ([]string, error)

	// History returns the recorded changes for a workspace, oldest first.
	History(ctx context.Context, workspaceID string) ([]Change, error)
}
