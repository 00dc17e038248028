// Package api exposes the workspace subscription, usage, device and payment
// operations over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/workspacekit/pkg/device"
	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/payment"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
	"github.com/dmitrymomot/workspacekit/pkg/usage"
)

type Subscriptions interface {
	Get(ctx context.Context, workspaceID string) (*subscription.Subscription, error)
	CreateFree(ctx context.Context, workspaceID string) (*subscription.Subscription, error)
	EffectivePlan(ctx context.Context, workspaceID string) (subscription.Plan, error)
	StartTrial(ctx context.Context, workspaceID, planCode string) (*subscription.Subscription, error)
	Cancel(ctx context.Context, workspaceID string, immediate bool) (*subscription.Subscription, error)
}

type Usage interface {
	Snapshot(ctx context.Context, workspaceID string) ([]usage.CounterUsage, error)
}

type Devices interface {
	RegisterDevice(ctx context.Context, workspaceID string, reg device.Registration) (*device.Token, error)
	RefreshDevice(ctx context.Context, workspaceID, token string) (*device.Token, error)
	DeactivateDevice(ctx context.Context, workspaceID, deviceID string) error
	List(ctx context.Context, workspaceID string) ([]device.Session, error)
	AccessMode(ctx context.Context, workspaceID string) (device.AccessMode, error)
}

type Payments interface {
	VerifyPurchase(ctx context.Context, workspaceID string, token payment.PurchaseToken) (*payment.PurchaseResult, *subscription.Subscription, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*payment.WebhookResult, error)
}

// HTTPMetrics observes finished requests by route pattern.
type HTTPMetrics interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Deps are the collaborators the router needs. Authenticate must put a
// tenant.Principal in the request context; routes below it trust that.
type Deps struct {
	Subscriptions Subscriptions
	Usage         Usage
	Devices       Devices
	Payments      Payments

	Authenticate func(http.Handler) http.Handler
	Tenant       tenant.Config
	Liveness     http.Handler
	Readiness    http.Handler
	Metrics      http.Handler
	HTTPMetrics  HTTPMetrics
	Logger       *slog.Logger
}

// API holds the handlers. Build it with New and serve Router().
type API struct {
	subs     Subscriptions
	usage    Usage
	devices  Devices
	payments Payments
	deps     Deps
	log      *slog.Logger
}

func New(d Deps) *API {
	log := d.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &API{
		subs:     d.Subscriptions,
		usage:    d.Usage,
		devices:  d.Devices,
		payments: d.Payments,
		deps:     d,
		log:      log.With(logger.Component("api")),
	}
}

// Router mounts every route. Health, metrics and webhooks are exempt from
// authentication and tenant resolution; /workspaces needs a principal but no
// tenant; everything else runs inside one workspace.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, a.observe, middleware.Recoverer)

	if a.deps.Liveness != nil {
		r.Method(http.MethodGet, "/healthz", a.deps.Liveness)
	}
	if a.deps.Readiness != nil {
		r.Method(http.MethodGet, "/readyz", a.deps.Readiness)
	}
	if a.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.deps.Metrics)
	}
	r.Post("/webhooks/{provider}", a.webhook)

	r.Group(func(r chi.Router) {
		if a.deps.Authenticate != nil {
			r.Use(a.deps.Authenticate)
		}
		r.Get("/workspaces", wrap(a, nil, a.listWorkspaces))

		r.Group(func(r chi.Router) {
			r.Use(tenant.Middleware(tenant.NewHeaderResolver(a.deps.Tenant.Header),
				tenant.WithExemptPaths(a.deps.Tenant.ExemptPaths...),
				tenant.WithDeviceHeader(a.deps.Tenant.DeviceHeader),
				tenant.WithErrorHandler(a.writeError),
				tenant.WithLogger(a.log),
			))

			r.Get("/subscription", wrap(a, nil, a.getSubscription))
			r.Post("/subscription/trial", wrap(a, bindJSON, a.startTrial))
			r.Post("/subscription/cancel", wrap(a, nil, a.cancelSubscription))
			r.Post("/purchases/verify", wrap(a, bindJSON, a.verifyPurchase))
			r.Get("/usage", wrap(a, nil, a.getUsage))

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", wrap(a, nil, a.listDevices))
				r.Post("/", wrap(a, bindJSON, a.registerDevice))
				r.Post("/refresh", wrap(a, bindJSON, a.refreshDevice))
				r.Delete("/{deviceID}", wrap(a, nil, a.deactivateDevice))
			})
		})
	})

	return r
}

// observe logs and measures every request by its route pattern.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		if a.deps.HTTPMetrics != nil {
			a.deps.HTTPMetrics.ObserveHTTP(r.Method, route, status, elapsed)
		}
		a.log.DebugContext(r.Context(), "request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			logger.Duration(elapsed),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
