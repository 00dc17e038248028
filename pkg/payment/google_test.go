package payment_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workspacekit/pkg/payment"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

const googlePurchaseV2 = `{
  "subscriptionState": %q,
  "latestOrderId": "GPA.1234",
  "lineItems": [{"productId": "pro_monthly", "expiryTime": "2025-04-10T12:00:00Z"}],
  "externalAccountIdentifiers": {"obfuscatedExternalAccountId": "ws-1"}
}`

func newGoogle(t *testing.T) *payment.GoogleProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.Contains(r.URL.Path, "/applications/com.example.app/purchases/subscriptionsv2/tokens/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:] {
		case "tok-active":
			fmt.Fprintf(w, googlePurchaseV2, "SUBSCRIPTION_STATE_ACTIVE")
		case "tok-expired":
			fmt.Fprintf(w, googlePurchaseV2, "SUBSCRIPTION_STATE_EXPIRED")
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404,"message":"not found"}}`)
		}
	}))
	t.Cleanup(srv.Close)

	p, err := payment.NewGoogleProvider(context.Background(), payment.GoogleConfig{
		PackageName: "com.example.app",
		PushToken:   "push-secret",
		Plans:       payment.PlanMap{"pro_monthly": "PROFESSIONAL"},
		Endpoint:    srv.URL + "/",
	}, payment.WithGoogleHTTPClient(srv.Client()))
	require.NoError(t, err)
	return p
}

func pubsubBody(t *testing.T, pkg string, notificationType int, token string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"packageName":     pkg,
		"eventTimeMillis": "1741600000000",
		"subscriptionNotification": map[string]any{
			"version":          "1.0",
			"notificationType": notificationType,
			"purchaseToken":    token,
			"subscriptionId":   "pro_monthly",
		},
	})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"message":      map[string]string{"data": base64.StdEncoding.EncodeToString(data), "messageId": "msg-1"},
		"subscription": "projects/p/subscriptions/play",
	})
	require.NoError(t, err)
	return body
}

func TestGoogle_VerifyPurchase(t *testing.T) {
	t.Parallel()
	p := newGoogle(t)
	ctx := context.Background()

	res, err := p.VerifyPurchase(ctx, "ws-1", payment.PurchaseToken{Token: "tok-active"})
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, subscription.PlanProfessional, res.PlanCode)
	assert.True(t, time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC).Equal(res.PeriodEnd))

	res, err = p.VerifyPurchase(ctx, "ws-2", payment.PurchaseToken{Token: "tok-active"})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = p.VerifyPurchase(ctx, "ws-1", payment.PurchaseToken{Token: "tok-expired"})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = p.VerifyPurchase(ctx, "ws-1", payment.PurchaseToken{Token: "tok-unknown"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestGoogle_HandleWebhook(t *testing.T) {
	t.Parallel()
	p := newGoogle(t)

	tests := []struct {
		typ       int
		kind      payment.Kind
		immediate bool
	}{
		{1, payment.KindRenewed, false},
		{2, payment.KindRenewed, false},
		{3, payment.KindCancelled, false},
		{4, payment.KindActivated, false},
		{5, payment.KindPaymentFailed, false},
		{6, payment.KindPaymentFailed, false},
		{7, payment.KindActivated, false},
		{8, payment.KindIgnored, false},
		{9, payment.KindRenewed, false},
		{10, payment.KindIgnored, false},
		{11, payment.KindIgnored, false},
		{12, payment.KindCancelled, true},
		{13, payment.KindExpired, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.typ), func(t *testing.T) {
			t.Parallel()
			res, err := p.HandleWebhook(context.Background(), pubsubBody(t, "com.example.app", tt.typ, "tok-active"), "push-secret")
			require.NoError(t, err)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.immediate, res.Immediate)
			assert.Equal(t, "msg-1", res.EventID)
			if tt.kind != payment.KindIgnored {
				assert.Equal(t, "ws-1", res.WorkspaceID)
				assert.Equal(t, subscription.PlanProfessional, res.PlanCode)
			}
		})
	}

	t.Run("wrong push token", func(t *testing.T) {
		t.Parallel()
		_, err := p.HandleWebhook(context.Background(), pubsubBody(t, "com.example.app", 13, "tok-active"), "guess")
		assert.ErrorIs(t, err, payment.ErrWebhookVerificationFailed)
	})

	t.Run("other package", func(t *testing.T) {
		t.Parallel()
		res, err := p.HandleWebhook(context.Background(), pubsubBody(t, "com.other", 13, "tok-active"), "push-secret")
		require.NoError(t, err)
		assert.Equal(t, payment.KindIgnored, res.Kind)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		_, err := p.HandleWebhook(context.Background(), []byte(`{"message":{"data":"%%%"}}`), "push-secret")
		assert.ErrorIs(t, err, payment.ErrInvalidWebhookPayload)
	})
}
