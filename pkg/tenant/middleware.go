package tenant

import (
	"net/http"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
)

// Middleware resolves the workspace for every tenant-scoped request, checks the
// principal's membership and binds the workspace to the request context.
// The binding lives only in the request's context, so nothing survives the
// request whether the handler returns, panics or the client disconnects.
func Middleware(resolve Resolver, opts ...Option) func(http.Handler) http.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if resolve == nil {
		resolve = NewHeaderResolver(DefaultHeader)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.classifier(r) == RouteExempt {
				next.ServeHTTP(w, r)
				return
			}

			workspaceID, err := resolve(r)
			if err != nil {
				cfg.errorHandler(w, r, err)
				return
			}
			if workspaceID == "" {
				cfg.errorHandler(w, r, ErrMissingTenantContext)
				return
			}

			principal, err := cfg.principals(r)
			if err != nil {
				cfg.errorHandler(w, r, err)
				return
			}
			if principal == nil {
				cfg.errorHandler(w, r, ErrUnauthenticated)
				return
			}
			if !principal.IsMember(workspaceID) {
				cfg.logger.WarnContext(r.Context(), "workspace access denied",
					logger.WorkspaceID(workspaceID),
					logger.UserID(principal.Subject()))
				cfg.errorHandler(w, r, ErrTenantAccessDenied)
				return
			}

			ctx := WithTenant(r.Context(), workspaceID)
			if cfg.deviceHeader != "" {
				if deviceID := r.Header.Get(cfg.deviceHeader); deviceID != "" {
					ctx = WithDevice(ctx, deviceID)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenant rejects requests that reach a handler without a workspace.
// Use it on sub-routers that must never run unscoped.
func RequireTenant(onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = defaultErrorHandler
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := FromContext(r.Context()); !ok {
				onError(w, r, ErrMissingTenantContext)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
