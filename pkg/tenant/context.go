package tenant

import (
	"context"
	"log/slog"
)

// Info is the request-scoped tenant state.
type Info struct {
	WorkspaceID string
	DeviceID    string
}

type contextKey struct{}

// WithTenant returns a child context bound to workspaceID. The parent is not
// modified, so leaving the child's scope restores the previous value.
func WithTenant(ctx context.Context, workspaceID string) context.Context {
	info, _ := FromContext(ctx)
	if info.WorkspaceID != workspaceID {
		info = Info{WorkspaceID: workspaceID}
	}
	return context.WithValue(ctx, contextKey{}, info)
}

// WithDevice records the calling device alongside the current workspace.
func WithDevice(ctx context.Context, deviceID string) context.Context {
	info, _ := FromContext(ctx)
	info.DeviceID = deviceID
	return context.WithValue(ctx, contextKey{}, info)
}

// FromContext returns the tenant info stored in ctx.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(contextKey{}).(Info)
	if !ok || info.WorkspaceID == "" {
		return Info{}, false
	}
	return info, true
}

// WorkspaceID returns the current workspace or ErrNoTenantContext.
func WorkspaceID(ctx context.Context) (string, error) {
	info, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoTenantContext
	}
	return info.WorkspaceID, nil
}

// Scope binds ctx to workspaceID for a unit of work. It refuses to switch a
// context that already belongs to a different workspace.
func Scope(ctx context.Context, workspaceID string) (context.Context, error) {
	if workspaceID == "" {
		return nil, ErrNoTenantContext
	}
	if info, ok := FromContext(ctx); ok {
		if info.WorkspaceID != workspaceID {
			return nil, ErrTenantAccessDenied
		}
		return ctx, nil
	}
	return WithTenant(ctx, workspaceID), nil
}

// Detach returns a context for background work spawned by a request: it keeps
// the tenant (and other values) but not the request's cancellation, so the
// work can outlive the response.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// Go runs fn in a new goroutine with a detached copy of ctx. The tenant is
// captured at call time.
func Go(ctx context.Context, fn func(ctx context.Context)) {
	detached := Detach(ctx)
	go fn(detached)
}

// LoggerExtractor adds workspace_id to log records written with a tenant context.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if info, ok := FromContext(ctx); ok {
			return slog.String("workspace_id", info.WorkspaceID), true
		}
		return slog.Attr{}, false
	}
}

// DeviceLoggerExtractor adds device_id when the request came from a registered device.
func DeviceLoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if info, ok := FromContext(ctx); ok && info.DeviceID != "" {
			return slog.String("device_id", info.DeviceID), true
		}
		return slog.Attr{}, false
	}
}
