package tenant

import "context"

// Scoped is implemented by entities that belong to exactly one workspace.
type Scoped interface {
	Tenant() string
	AssignTenant(workspaceID string)
}

// Stamp overwrites the entity's workspace with the one in ctx. Whatever the
// caller put there is discarded.
func Stamp(ctx context.Context, e Scoped) error {
	workspaceID, err := WorkspaceID(ctx)
	if err != nil {
		return err
	}
	e.AssignTenant(workspaceID)
	return nil
}

// Predicate returns the workspace every read in ctx must be filtered by.
func Predicate(ctx context.Context) (string, error) {
	return WorkspaceID(ctx)
}

// Visible reports whether e belongs to the workspace in ctx.
func Visible(ctx context.Context, e Scoped) (bool, error) {
	workspaceID, err := WorkspaceID(ctx)
	if err != nil {
		return false, err
	}
	return e.Tenant() == workspaceID, nil
}
