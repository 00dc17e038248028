package tenant

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
)

const (
	DefaultHeader       = "X-Workspace-ID"
	DefaultDeviceHeader = "X-Device-ID"
)

// Config holds env-driven middleware settings. ExemptPaths only matters when
// the middleware wraps routes that must run unscoped; routers that mount it on
// a tenant-only group classify the rest by grouping.
type Config struct {
	Header       string   `env:"TENANT_HEADER" envDefault:"X-Workspace-ID"`
	DeviceHeader string   `env:"TENANT_DEVICE_HEADER" envDefault:"X-Device-ID"`
	ExemptPaths  []string `env:"TENANT_EXEMPT_PATHS" envSeparator:"," envDefault:"/healthz,/readyz,/metrics,/webhooks"`
}

// RouteClass tells the middleware whether a route needs a tenant.
type RouteClass int

const (
	RouteTenantScoped RouteClass = iota
	RouteExempt
)

// RouteClassifier decides the class of a request's route.
type RouteClassifier func(r *http.Request) RouteClass

// ExemptPrefixes classifies any path under one of prefixes as exempt.
func ExemptPrefixes(prefixes ...string) RouteClassifier {
	return func(r *http.Request) RouteClass {
		for _, p := range prefixes {
			if p != "" && (r.URL.Path == p || strings.HasPrefix(r.URL.Path, strings.TrimSuffix(p, "/")+"/")) {
				return RouteExempt
			}
		}
		return RouteTenantScoped
	}
}

// ErrorHandler writes the response for a failed tenant resolution.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type config struct {
	classifier   RouteClassifier
	principals   PrincipalFunc
	deviceHeader string
	errorHandler ErrorHandler
	logger       *slog.Logger
}

// Option configures the middleware.
type Option func(*config)

func WithRouteClassifier(c RouteClassifier) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.classifier = c
		}
	}
}

// WithExemptPaths is shorthand for WithRouteClassifier(ExemptPrefixes(paths...)).
func WithExemptPaths(paths ...string) Option {
	return WithRouteClassifier(ExemptPrefixes(paths...))
}

func WithPrincipalFunc(fn PrincipalFunc) Option {
	return func(cfg *config) {
		if fn != nil {
			cfg.principals = fn
		}
	}
}

func WithDeviceHeader(name string) Option {
	return func(cfg *config) { cfg.deviceHeader = name }
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(cfg *config) {
		if h != nil {
			cfg.errorHandler = h
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// StatusCode maps tenant errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrMissingTenantContext), errors.Is(err, ErrInvalidTenantIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTenantAccessDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	code := StatusCode(err)
	http.Error(w, http.StatusText(code), code)
}

func defaultConfig() *config {
	return &config{
		classifier:   func(*http.Request) RouteClass { return RouteTenantScoped },
		principals:   ContextPrincipal,
		deviceHeader: DefaultDeviceHeader,
		errorHandler: defaultErrorHandler,
		logger:       logger.Discard(),
	}
}
