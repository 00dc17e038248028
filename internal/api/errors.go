package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/workspacekit/pkg/device"
	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/payment"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
	"github.com/dmitrymomot/workspacekit/pkg/usage"
)

// errorBody is the JSON shape of every failed request. Limit fields are
// present only for quota denials.
type errorBody struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Resource string `json:"resource,omitempty"`
	Current  *int64 `json:"current,omitempty"`
	Limit    *int64 `json:"limit,omitempty"`
}

type errorClass struct {
	status int
	code   string
	errs   []error
}

// Order matters: the first class any of whose errors matches wins.
// tenant.ErrNoTenantContext is not listed: a handler ran outside the tenant
// group, which falls through to a logged 500.
var errorClasses = []errorClass{
	{http.StatusPaymentRequired, "limit_exceeded", []error{usage.ErrLimitExceeded, device.ErrDeviceLimitExceeded}},
	{http.StatusPaymentRequired, "feature_not_available", []error{subscription.ErrFeatureNotAvailable}},
	{http.StatusPaymentRequired, "subscription_expired", []error{subscription.ErrSubscriptionExpired}},
	{http.StatusBadRequest, "invalid_tenant", []error{tenant.ErrMissingTenantContext, tenant.ErrInvalidTenantIdentifier}},
	{http.StatusForbidden, "access_denied", []error{tenant.ErrTenantAccessDenied}},
	{http.StatusUnauthorized, "unauthenticated", []error{tenant.ErrUnauthenticated}},
	{http.StatusUnauthorized, "webhook_verification_failed", []error{payment.ErrWebhookVerificationFailed}},
	{http.StatusUnauthorized, "refresh_window_closed", []error{device.ErrRefreshWindowClosed}},
	{http.StatusUnauthorized, "invalid_device_token", []error{device.ErrInvalidToken, device.ErrTokenExpired, device.ErrDeviceInactive}},
	{http.StatusNotFound, "not_found", []error{subscription.ErrSubscriptionNotFound, subscription.ErrPlanNotFound, device.ErrDeviceNotFound, payment.ErrProviderNotRegistered, tenant.ErrRecordNotFound}},
	{http.StatusConflict, "conflict", []error{subscription.ErrVersionConflict, subscription.ErrInvalidTransition, subscription.ErrTrialNotAvailable}},
	{http.StatusBadGateway, "provider_error", []error{payment.ErrProviderError}},
	{http.StatusBadRequest, "invalid_request", []error{errBadRequest, payment.ErrInvalidPurchaseToken, payment.ErrInvalidWebhookPayload, payment.ErrUnknownProduct, device.ErrInvalidDeviceID, usage.ErrUnknownCounter}},
}

// StatusCode maps a domain error to its HTTP status and error code.
func StatusCode(err error) (int, string) {
	for _, c := range errorClasses {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.status, c.code
			}
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(a.log, w, r, err)
}

// ErrorWriter renders errors the way the API does, for middleware mounted in
// front of it such as authentication.
func ErrorWriter(log *slog.Logger) func(http.ResponseWriter, *http.Request, error) {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(log, w, r, err)
	}
}

func writeError(log *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusCode(err)
	body := errorBody{Error: err.Error(), Code: code}

	var le *usage.LimitError
	if errors.As(err, &le) {
		body.Resource = string(le.Counter)
		body.Current = &le.Current
		body.Limit = &le.Limit
	}

	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed", logger.Error(err), "path", r.URL.Path)
		body.Error = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
