// Package tenant carries the current workspace through a request and
// enforces row-level isolation for tenant-owned data.
//
// The workspace travels as a context.Context value. Middleware resolves it
// from a request header, checks the authenticated principal's memberships and
// binds it to the request context; nothing is stored outside that context, so
// a finished request cannot leak its workspace into the next one.
//
// Background work must receive the tenant explicitly. Go and Detach copy the
// caller's context values while dropping its cancellation:
//
//	tenant.Go(r.Context(), func(ctx context.Context) {
//		publisher.Publish(ctx, evt) // still sees the workspace
//	})
//
// Data access goes through Stamp, Predicate and ScopedStore. Writes are
// stamped with the context workspace regardless of what the caller supplied,
// and reads are filtered by it. A missing workspace fails with
// ErrNoTenantContext instead of returning every tenant's rows.
package tenant
