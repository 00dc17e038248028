package payment_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workspacekit/pkg/payment"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

// testCA issues a root and a leaf certificate and signs JWS values with the
// leaf the way the App Store does.
type testCA struct {
	rootPEM string
	chain   []string
	key     *ecdsa.PrivateKey
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	now := time.Now()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	root, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Signing Leaf"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)

	return &testCA{
		rootPEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER})),
		chain:   []string{base64.StdEncoding.EncodeToString(leafDER), base64.StdEncoding.EncodeToString(rootDER)},
		key:     leafKey,
	}
}

func (ca *testCA) sign(t *testing.T, claims gojwt.MapClaims) string {
	t.Helper()
	tok := gojwt.NewWithClaims(gojwt.SigningMethodES256, claims)
	tok.Header["x5c"] = ca.chain
	s, err := tok.SignedString(ca.key)
	require.NoError(t, err)
	return s
}

func (ca *testCA) notification(t *testing.T, typ, subtype string, expires time.Time) []byte {
	t.Helper()
	tx := ca.sign(t, gojwt.MapClaims{
		"originalTransactionId": "1000000001",
		"productId":             "com.example.pro.monthly",
		"expiresDate":           expires.UnixMilli(),
		"appAccountToken":       "ws-1",
	})
	signed := ca.sign(t, gojwt.MapClaims{
		"notificationType": typ,
		"subtype":          subtype,
		"notificationUUID": "uuid-1",
		"data": map[string]any{
			"bundleId":              "com.example.app",
			"signedTransactionInfo": tx,
		},
	})
	body, err := json.Marshal(map[string]string{"signedPayload": signed})
	require.NoError(t, err)
	return body
}

func newApple(t *testing.T, rootPEM, verifyURL, sandboxURL string) *payment.AppleProvider {
	t.Helper()
	p, err := payment.NewAppleProvider(payment.AppleConfig{
		SharedSecret:    "shared",
		BundleID:        "com.example.app",
		Plans:           payment.PlanMap{"com.example.pro.monthly": "PROFESSIONAL"},
		RootCertificate: rootPEM,
		VerifyURL:       verifyURL,
		SandboxURL:      sandboxURL,
	})
	require.NoError(t, err)
	return p
}

func TestApple_HandleWebhook(t *testing.T) {
	t.Parallel()
	ca := newTestCA(t)
	p := newApple(t, ca.rootPEM, "", "")
	expires := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Millisecond)

	tests := []struct {
		typ, subtype string
		kind         payment.Kind
		immediate    bool
	}{
		{"SUBSCRIBED", "INITIAL_BUY", payment.KindActivated, false},
		{"DID_RENEW", "", payment.KindRenewed, false},
		{"DID_FAIL_TO_RENEW", "GRACE_PERIOD", payment.KindPaymentFailed, false},
		{"EXPIRED", "VOLUNTARY", payment.KindExpired, false},
		{"GRACE_PERIOD_EXPIRED", "", payment.KindExpired, false},
		{"REFUND", "", payment.KindCancelled, true},
		{"DID_CHANGE_RENEWAL_STATUS", "AUTO_RENEW_DISABLED", payment.KindCancelled, false},
		{"DID_CHANGE_RENEWAL_STATUS", "AUTO_RENEW_ENABLED", payment.KindIgnored, false},
		{"TEST", "", payment.KindIgnored, false},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.subtype, func(t *testing.T) {
			t.Parallel()
			res, err := p.HandleWebhook(context.Background(), ca.notification(t, tt.typ, tt.subtype, expires), "")
			require.NoError(t, err)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.immediate, res.Immediate)
			assert.Equal(t, "ws-1", res.WorkspaceID)
			assert.Equal(t, "uuid-1", res.EventID)
			assert.Equal(t, "1000000001", res.ExternalSubscriptionID)
			assert.Equal(t, subscription.PlanProfessional, res.PlanCode)
			assert.True(t, expires.Equal(res.PeriodEnd))
		})
	}
}

func TestApple_HandleWebhook_Untrusted(t *testing.T) {
	t.Parallel()
	trusted := newTestCA(t)
	forger := newTestCA(t)
	p := newApple(t, trusted.rootPEM, "", "")

	_, err := p.HandleWebhook(context.Background(), forger.notification(t, "EXPIRED", "", time.Now()), "")
	assert.ErrorIs(t, err, payment.ErrWebhookVerificationFailed)

	_, err = p.HandleWebhook(context.Background(), []byte(`{"signedPayload":"a.b.c"}`), "")
	assert.ErrorIs(t, err, payment.ErrWebhookVerificationFailed)

	_, err = p.HandleWebhook(context.Background(), []byte(`{}`), "")
	assert.ErrorIs(t, err, payment.ErrInvalidWebhookPayload)

	unconfigured := newApple(t, "", "", "")
	_, err = unconfigured.HandleWebhook(context.Background(), trusted.notification(t, "EXPIRED", "", time.Now()), "")
	assert.ErrorIs(t, err, payment.ErrWebhookVerificationFailed)
}

func TestApple_VerifyPurchase_SandboxRetry(t *testing.T) {
	t.Parallel()
	expires := time.Now().Add(10 * 24 * time.Hour).Truncate(time.Millisecond)
	var prodCalls, sandboxCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/prod", func(w http.ResponseWriter, r *http.Request) {
		prodCalls.Add(1)
		fmt.Fprint(w, `{"status":21007}`)
	})
	mux.HandleFunc("/sandbox", func(w http.ResponseWriter, r *http.Request) {
		sandboxCalls.Add(1)
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["password"] != "shared" {
			fmt.Fprint(w, `{"status":21004}`)
			return
		}
		if req["receipt-data"] == "expired-receipt" {
			fmt.Fprint(w, `{"status":0,"receipt":{"bundle_id":"com.example.app"},"latest_receipt_info":[
				{"product_id":"com.example.pro.monthly","expires_date_ms":"1000","original_transaction_id":"1"}]}`)
			return
		}
		fmt.Fprintf(w, `{"status":0,"receipt":{"bundle_id":"com.example.app"},"latest_receipt_info":[
			{"product_id":"com.example.pro.monthly","expires_date_ms":"1000","original_transaction_id":"1"},
			{"product_id":"com.example.pro.monthly","expires_date_ms":%q,"original_transaction_id":"1"}]}`,
			strconv.FormatInt(expires.UnixMilli(), 10))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := newApple(t, "", srv.URL+"/prod", srv.URL+"/sandbox")
	res, err := p.VerifyPurchase(context.Background(), "ws-1", payment.PurchaseToken{Token: "receipt"})
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)
	assert.Equal(t, subscription.PlanProfessional, res.PlanCode)
	assert.True(t, expires.Equal(res.PeriodEnd))
	assert.Equal(t, int32(1), prodCalls.Load())
	assert.Equal(t, int32(1), sandboxCalls.Load())

	res, err = p.VerifyPurchase(context.Background(), "ws-1", payment.PurchaseToken{Token: "expired-receipt"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
}
