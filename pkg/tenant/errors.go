package tenant

import "errors"

var (
	// ErrMissingTenantContext is returned when a tenant-scoped route receives
	// no workspace identifier.
	ErrMissingTenantContext = errors.New("missing tenant context")

	// ErrInvalidTenantIdentifier is returned when the workspace identifier is malformed.
	ErrInvalidTenantIdentifier = errors.New("invalid tenant identifier")

	// ErrTenantAccessDenied is returned when the authenticated principal is not a
	// member of the requested workspace, or when code tries to re-scope a
	// context that already belongs to another workspace.
	ErrTenantAccessDenied = errors.New("tenant access denied")

	// ErrNoTenantContext is returned by tenant-scoped data access executed
	// without a workspace in the context. Seeing it in production is a bug.
	ErrNoTenantContext = errors.New("no tenant in context")

	// ErrUnauthenticated is returned when no principal is attached to the request.
	ErrUnauthenticated = errors.New("unauthenticated request")

	// ErrRecordNotFound is returned by ScopedStore for ids not visible to the current workspace.
	ErrRecordNotFound = errors.New("record not found")
)
