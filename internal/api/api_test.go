package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workspacekit/internal/api"
	"github.com/dmitrymomot/workspacekit/pkg/device"
	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/payment"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
	"github.com/dmitrymomot/workspacekit/pkg/usage"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type provider struct {
	purchase *payment.PurchaseResult
	webhook  *payment.WebhookResult
}

func (p *provider) Name() string { return payment.ProviderStripe }

func (p *provider) VerifyPurchase(context.Context, string, payment.PurchaseToken) (*payment.PurchaseResult, error) {
	return p.purchase, nil
}

func (p *provider) HandleWebhook(_ context.Context, _ []byte, sig string) (*payment.WebhookResult, error) {
	if sig == "" {
		return nil, payment.ErrWebhookVerificationFailed
	}
	return p.webhook, nil
}

type routeMetrics struct {
	mu     sync.Mutex
	routes []string
}

func (m *routeMetrics) ObserveHTTP(method, route string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, method+" "+route)
}

func (m *routeMetrics) seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.routes)
}

type fixture struct {
	srv      *httptest.Server
	subs     *subscription.Service
	tracker  *usage.Tracker
	provider *provider
	metrics  *routeMetrics
}

// authenticate stands in for the bearer-token layer: X-User names the
// caller, who belongs to workspaces W and W2.
func authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-User")
		if user == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p := tenant.Member{UserID: user, Workspaces: []string{"W", "W2"}}
		next.ServeHTTP(w, r.WithContext(tenant.WithPrincipal(r.Context(), p)))
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return now }
	f := &fixture{provider: &provider{}, metrics: &routeMetrics{}}

	f.subs = subscription.NewService(subscription.NewMemoryStore(), subscription.DefaultCatalog(),
		subscription.WithClock(clock), subscription.WithLogger(logger.Discard()))
	reg, err := device.NewRegistry(device.NewMemoryStore(), f.subs, device.Config{
		TokenSecret: "secret", TokenValidityDays: 7, GracePeriodDays: 3, MaxOfflineDays: 30,
	}, device.WithClock(clock), device.WithLogger(logger.Discard()))
	require.NoError(t, err)
	f.tracker = usage.NewTracker(usage.NewMemoryStore(), f.subs,
		usage.WithActiveCounter(subscription.ResourceDevices, reg),
		usage.WithClock(clock),
		usage.WithLogger(logger.Discard()),
	)
	orch := payment.NewOrchestrator(f.subs, payment.WithLogger(logger.Discard()))
	require.NoError(t, orch.Register(f.provider))

	a := api.New(api.Deps{
		Subscriptions: f.subs,
		Usage:         f.tracker,
		Devices:       reg,
		Payments:      orch,
		Authenticate:  authenticate,
		Liveness:      http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ALIVE")) }),
		HTTPMetrics:   f.metrics,
		Logger:        logger.Discard(),
	})
	f.srv = httptest.NewServer(a.Router())
	t.Cleanup(f.srv.Close)
	return f
}

type result struct {
	Code int
	Body map[string]any
}

func (f *fixture) do(t *testing.T, method, path, ws string, body any) result {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("X-User", "user-1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ws != "" {
		req.Header.Set(tenant.DefaultHeader, ws)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := result{Code: resp.StatusCode}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out.Body)
	}
	return out
}

func data(t *testing.T, r result) map[string]any {
	t.Helper()
	d, ok := r.Body["data"].(map[string]any)
	require.True(t, ok, "body: %v", r.Body)
	return d
}

func TestTenantResolution(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name string
		ws   string
		code int
		err  string
	}{
		{"missing header", "", http.StatusBadRequest, "invalid_tenant"},
		{"malformed", "bad id!", http.StatusBadRequest, "invalid_tenant"},
		{"not a member", "OTHER", http.StatusForbidden, "access_denied"},
		{"member", "W", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.do(t, http.MethodGet, "/subscription", tt.ws, nil)
			assert.Equal(t, tt.code, res.Code)
			if tt.err != "" {
				assert.Equal(t, tt.err, res.Body["code"])
			}
		})
	}
}

func TestExemptRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "no auth, no tenant")

	res := f.do(t, http.MethodGet, "/workspaces", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	list, ok := res.Body["data"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 2)

	resp, err = http.Get(f.srv.URL + "/subscription")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubscriptionRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/subscription", "W", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "FREE", data(t, res)["status"])

	res = f.do(t, http.MethodPost, "/subscription/trial", "W", map[string]string{"plan": "PROFESSIONAL"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "TRIAL", data(t, res)["status"])
	assert.Equal(t, "PROFESSIONAL", data(t, res)["effective_plan"])

	res = f.do(t, http.MethodPost, "/subscription/trial", "W", map[string]string{"plan": "PROFESSIONAL"})
	assert.Equal(t, http.StatusConflict, res.Code, "one trial per workspace")

	res = f.do(t, http.MethodPost, "/subscription/trial", "W2", map[string]string{"plan": "NOPE"})
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = f.do(t, http.MethodPost, "/subscription/trial", "W2", map[string]any{"plan": "STARTER", "extra": 1})
	assert.Equal(t, http.StatusBadRequest, res.Code, "unknown fields are rejected")

	res = f.do(t, http.MethodPost, "/subscription/cancel?immediate=true", "W", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "CANCELLED", data(t, res)["status"])
	assert.Equal(t, "FREE", data(t, res)["effective_plan"])
}

func TestDeviceRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var token string
	for _, id := range []string{"phone", "tablet"} {
		res := f.do(t, http.MethodPost, "/devices", "W", map[string]string{"device_id": id, "platform": "ios"})
		require.Equal(t, http.StatusCreated, res.Code)
		token, _ = data(t, res)["token"].(string)
		assert.Equal(t, "FULL", data(t, res)["access_mode"])
	}
	require.NotEmpty(t, token)

	res := f.do(t, http.MethodPost, "/devices", "W", map[string]string{"device_id": "laptop"})
	require.Equal(t, http.StatusPaymentRequired, res.Code)
	assert.Equal(t, "limit_exceeded", res.Body["code"])
	assert.Equal(t, "devices", res.Body["resource"])
	assert.InDelta(t, 2, res.Body["current"], 0)
	assert.InDelta(t, 2, res.Body["limit"], 0)

	res = f.do(t, http.MethodPost, "/devices/refresh", "W", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(t, http.MethodPost, "/devices/refresh", "W2", map[string]string{"token": token})
	assert.Equal(t, http.StatusUnauthorized, res.Code, "a token never crosses workspaces")

	res = f.do(t, http.MethodDelete, "/devices/phone", "W", nil)
	assert.Equal(t, http.StatusNoContent, res.Code)
	res = f.do(t, http.MethodDelete, "/devices/phone", "W2", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = f.do(t, http.MethodGet, "/devices", "W", nil)
	require.Equal(t, http.StatusOK, res.Code)
	meta, _ := res.Body["meta"].(map[string]any)
	assert.InDelta(t, 1, meta["active"], 0)

	res = f.do(t, http.MethodGet, "/usage", "W", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.InDelta(t, 1, usageRow(t, res, "devices")["used"], 0, "usage follows active sessions")

	res = f.do(t, http.MethodPost, "/devices", "W", map[string]string{"device_id": "laptop"})
	assert.Equal(t, http.StatusCreated, res.Code, "the freed slot can be used")

	res = f.do(t, http.MethodGet, "/usage", "W", nil)
	require.Equal(t, http.StatusOK, res.Code)
	devices := usageRow(t, res, "devices")
	assert.InDelta(t, 2, devices["used"], 0)
	assert.InDelta(t, 2, devices["limit"], 0)
}

func usageRow(t *testing.T, res result, counter string) map[string]any {
	t.Helper()
	rows, ok := res.Body["data"].([]any)
	require.True(t, ok)
	for _, r := range rows {
		if m, _ := r.(map[string]any); m["counter"] == counter {
			return m
		}
	}
	t.Fatalf("usage has no %s row", counter)
	return nil
}

func TestUsageRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ctx := tenant.WithTenant(context.Background(), "W")
	_, err := f.tracker.IncrementUsage(ctx, "W", subscription.ResourceCustomers, 45)
	require.NoError(t, err)

	res := f.do(t, http.MethodGet, "/usage", "W", nil)
	require.Equal(t, http.StatusOK, res.Code)
	counters, ok := res.Body["data"].([]any)
	require.True(t, ok)

	var customers map[string]any
	for _, c := range counters {
		if m := c.(map[string]any); m["counter"] == "customers" {
			customers = m
		}
	}
	require.NotNil(t, customers)
	assert.InDelta(t, 45, customers["used"], 0)
	assert.InDelta(t, 50, customers["limit"], 0)
	assert.Equal(t, true, customers["warning"])
}

func TestPurchaseRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.provider.purchase = &payment.PurchaseResult{Valid: false, Provider: "stripe", Reason: "receipt expired"}
	res := f.do(t, http.MethodPost, "/purchases/verify", "W", map[string]string{"provider": "stripe", "token": "t"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(t, http.MethodPost, "/purchases/verify", "W", map[string]string{"provider": "nope", "token": "t"})
	assert.Equal(t, http.StatusNotFound, res.Code)

	f.provider.purchase = &payment.PurchaseResult{
		Valid: true, Provider: "stripe", PlanCode: subscription.PlanStarter, Cycle: subscription.CycleAnnual,
		PeriodEnd: now.AddDate(1, 0, 0),
	}
	res = f.do(t, http.MethodPost, "/purchases/verify", "W", map[string]string{"provider": "stripe", "token": "t"})
	require.Equal(t, http.StatusOK, res.Code)
	d := data(t, res)
	assert.Equal(t, true, d["valid"])
	sub, _ := d["subscription"].(map[string]any)
	assert.Equal(t, "ACTIVE", sub["status"])
	assert.Equal(t, "STARTER", sub["plan"])
}

func TestWebhookRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	post := func(provider, sig string) int {
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/webhooks/"+provider, strings.NewReader(`{}`))
		require.NoError(t, err)
		if sig != "" {
			req.Header.Set("Stripe-Signature", sig)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	f.provider.webhook = &payment.WebhookResult{
		Kind: payment.KindActivated, Provider: "stripe", WorkspaceID: "W",
		PlanCode: subscription.PlanProfessional, PeriodEnd: now.AddDate(0, 1, 0),
	}
	assert.Equal(t, http.StatusUnauthorized, post("stripe", ""))

	_, err := f.subs.Get(context.Background(), "W")
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound, "rejected webhooks change nothing")

	assert.Equal(t, http.StatusOK, post("stripe", "t=1,v1=sig"))
	sub, err := f.subs.Get(context.Background(), "W")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, subscription.PlanProfessional, sub.PlanCode)

	f.provider.webhook = &payment.WebhookResult{Kind: payment.KindRenewed, Provider: "stripe", WorkspaceID: "W2"}
	assert.Equal(t, http.StatusOK, post("stripe", "t=2,v1=sig"), "events for unknown subscriptions are acknowledged")

	assert.Equal(t, http.StatusNotFound, post("missing", ""))
	assert.Contains(t, f.metrics.seen(), "POST /webhooks/{provider}")
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
	}{
		{&usage.LimitError{Counter: subscription.ResourceInvoices, Current: 20, Limit: 20, Requested: 1}, http.StatusPaymentRequired},
		{subscription.ErrFeatureNotAvailable, http.StatusPaymentRequired},
		{subscription.ErrSubscriptionExpired, http.StatusPaymentRequired},
		{tenant.ErrMissingTenantContext, http.StatusBadRequest},
		{tenant.ErrNoTenantContext, http.StatusInternalServerError},
		{tenant.ErrTenantAccessDenied, http.StatusForbidden},
		{payment.ErrWebhookVerificationFailed, http.StatusUnauthorized},
		{device.ErrRefreshWindowClosed, http.StatusUnauthorized},
		{device.ErrDeviceNotFound, http.StatusNotFound},
		{subscription.ErrVersionConflict, http.StatusConflict},
		{payment.ErrProviderError, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()
			code, _ := api.StatusCode(tt.err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestErrorWriter_MissingTenantIsLoggedAsServerError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	write := api.ErrorWriter(logger.New(logger.WithOutput(&buf), logger.WithFormat(logger.FormatJSON)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/subscription", nil)
	write(rec, req, fmt.Errorf("load subscription: %w", tenant.ErrNoTenantContext))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["code"])
	assert.NotContains(t, body["error"], "tenant", "internal details stay out of the response")

	line := buf.String()
	assert.Contains(t, line, `"level":"ERROR"`)
	assert.Contains(t, line, "no tenant in context")
	assert.Contains(t, line, `"path":"/subscription"`)
}
