package device

import (
	"context"
	"time"
)

// Store persists device sessions. Every method except Workspaces is scoped to
// the workspace carried by ctx (see tenant.Scope) and cannot see other
// workspaces' sessions.
type Store interface {
	// Register stores s unless the workspace already has limit active
	// sessions, counting and writing as one atomic step. A session for the
	// same device id is reused: an active one keeps its slot, an inactive
	// one needs a free slot. A negative limit means unlimited.
	// It returns the stored session and the active count after the call.
	Register(ctx context.Context, s Session, limit int64) (Session, int64, error)

	Get(ctx context.Context, deviceID string) (Session, error)
	Update(ctx context.Context, s Session) error
	List(ctx context.Context) ([]Session, error)

	// DeactivateAll marks every active session inactive as of at.
	DeactivateAll(ctx context.Context, at time.Time) (int, error)

	// Workspaces lists workspaces that have sessions. It is a
	// cross-tenant read for the inactivity sweep.
	Workspaces(ctx context.Context) ([]string, error)
}
