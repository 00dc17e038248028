package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workspacekit/pkg/payment"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

const (
	razorpayKeySecret     = "rzp_secret"
	razorpayWebhookSecret = "rzp_webhook_secret"
)

func hexHMAC(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func newRazorpay(t *testing.T, baseURL string) *payment.RazorpayProvider {
	t.Helper()
	p, err := payment.NewRazorpayProvider(payment.RazorpayConfig{
		KeyID:         "rzp_key",
		KeySecret:     razorpayKeySecret,
		WebhookSecret: razorpayWebhookSecret,
		Plans:         payment.PlanMap{"plan_starter": "STARTER"},
		BaseURL:       baseURL,
	})
	require.NoError(t, err)
	return p
}

func razorpayCheckout(paymentID, subID, secret string) string {
	b, _ := json.Marshal(payment.RazorpayCheckout{
		PaymentID:      paymentID,
		SubscriptionID: subID,
		Signature:      hexHMAC(secret, []byte(paymentID+"|"+subID)),
	})
	return string(b)
}

func TestRazorpay_VerifyPurchase(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_key" || pass != razorpayKeySecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/subscriptions/sub_1":
			fmt.Fprint(w, `{"id":"sub_1","plan_id":"plan_starter","customer_id":"cust_1","status":"active","current_end":1744000000,"notes":{"workspace_id":"ws-1"}}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"code":"BAD_REQUEST_ERROR"}}`)
		}
	}))
	t.Cleanup(srv.Close)
	p := newRazorpay(t, srv.URL)
	ctx := context.Background()

	res, err := p.VerifyPurchase(ctx, "ws-1", payment.PurchaseToken{Token: razorpayCheckout("pay_1", "sub_1", razorpayKeySecret)})
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, subscription.PlanStarter, res.PlanCode)
	assert.Equal(t, "cust_1", res.ExternalCustomerID)
	assert.True(t, time.Unix(1744000000, 0).Equal(res.PeriodEnd))

	res, err = p.VerifyPurchase(ctx, "ws-1", payment.PurchaseToken{Token: razorpayCheckout("pay_1", "sub_1", "wrong")})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "signature mismatch", res.Reason)

	res, err = p.VerifyPurchase(ctx, "ws-2", payment.PurchaseToken{Token: razorpayCheckout("pay_1", "sub_1", razorpayKeySecret)})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = p.VerifyPurchase(ctx, "ws-1", payment.PurchaseToken{Token: "not json"})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	_, err = p.VerifyPurchase(ctx, "ws-1", payment.PurchaseToken{Token: razorpayCheckout("pay_2", "sub_2", razorpayKeySecret)})
	assert.ErrorIs(t, err, payment.ErrProviderError)
}

func TestRazorpay_HandleWebhook(t *testing.T) {
	t.Parallel()
	p := newRazorpay(t, "")

	subPayload := func(event string) []byte {
		return fmt.Appendf(nil, `{"event":%q,"created_at":1741600000,"payload":{"subscription":{"entity":
			{"id":"sub_1","plan_id":"plan_starter","status":"active","current_end":1744000000,"notes":{"workspace_id":"ws-1"}}}}}`, event)
	}

	tests := []struct {
		event     string
		kind      payment.Kind
		immediate bool
	}{
		{"subscription.activated", payment.KindActivated, false},
		{"subscription.charged", payment.KindRenewed, false},
		{"subscription.pending", payment.KindPaymentFailed, false},
		{"subscription.halted", payment.KindExpired, false},
		{"subscription.completed", payment.KindExpired, false},
		{"subscription.cancelled", payment.KindCancelled, true},
		{"subscription.updated", payment.KindIgnored, false},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			t.Parallel()
			body := subPayload(tt.event)
			res, err := p.HandleWebhook(context.Background(), body, hexHMAC(razorpayWebhookSecret, body))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.immediate, res.Immediate)
			assert.Equal(t, "ws-1", res.WorkspaceID)
			assert.Equal(t, subscription.PlanStarter, res.PlanCode)
			assert.Equal(t, "sub_1", res.ExternalSubscriptionID)
		})
	}

	t.Run("payment failed", func(t *testing.T) {
		t.Parallel()
		body := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_9","notes":{"workspace_id":"ws-9"}}}}}`)
		res, err := p.HandleWebhook(context.Background(), body, hexHMAC(razorpayWebhookSecret, body))
		require.NoError(t, err)
		assert.Equal(t, payment.KindPaymentFailed, res.Kind)
		assert.Equal(t, "ws-9", res.WorkspaceID)
	})

	t.Run("forged", func(t *testing.T) {
		t.Parallel()
		body := subPayload("subscription.halted")
		_, err := p.HandleWebhook(context.Background(), body, hexHMAC("guess", body))
		assert.ErrorIs(t, err, payment.ErrWebhookVerificationFailed)
		_, err = p.HandleWebhook(context.Background(), body, "")
		assert.ErrorIs(t, err, payment.ErrWebhookVerificationFailed)
	})
}
