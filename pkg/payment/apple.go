package payment

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// appleSandboxReceipt is the verifyReceipt status for a sandbox receipt sent
// to the production endpoint.
const appleSandboxReceipt = 21007

// AppleProvider verifies App Store receipts and App Store Server
// Notifications V2. Apps set appAccountToken to the workspace id when they
// start a purchase.
type AppleProvider struct {
	cfg    AppleConfig
	roots  *x509.CertPool
	client *http.Client
	now    func() time.Time
}

type AppleOption func(*AppleProvider)

func WithAppleHTTPClient(c *http.Client) AppleOption {
	return func(p *AppleProvider) { p.client = c }
}

func WithAppleClock(now func() time.Time) AppleOption {
	return func(p *AppleProvider) { p.now = now }
}

func NewAppleProvider(cfg AppleConfig, opts ...AppleOption) (*AppleProvider, error) {
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("%w: apple", ErrMissingCredentials)
	}
	p := &AppleProvider{cfg: cfg, client: defaultHTTPClient(), now: time.Now}
	if cfg.RootCertificate != "" {
		p.roots = x509.NewCertPool()
		if !p.roots.AppendCertsFromPEM([]byte(cfg.RootCertificate)) {
			return nil, fmt.Errorf("%w: apple root certificate is not valid PEM", ErrMissingCredentials)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *AppleProvider) Name() string { return ProviderApple }

type appleReceiptRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

type appleReceiptResponse struct {
	Status  int `json:"status"`
	Receipt struct {
		BundleID string `json:"bundle_id"`
	} `json:"receipt"`
	LatestReceiptInfo []struct {
		ProductID             string `json:"product_id"`
		ExpiresDateMS         string `json:"expires_date_ms"`
		OriginalTransactionID string `json:"original_transaction_id"`
	} `json:"latest_receipt_info"`
}

func (p *AppleProvider) VerifyPurchase(ctx context.Context, workspaceID string, token PurchaseToken) (*PurchaseResult, error) {
	resp, err := p.verifyReceipt(ctx, p.cfg.VerifyURL, token.Token)
	if err == nil && resp.Status == appleSandboxReceipt {
		resp, err = p.verifyReceipt(ctx, p.cfg.SandboxURL, token.Token)
	}
	if err != nil {
		return nil, err
	}

	res := &PurchaseResult{Provider: ProviderApple}
	switch {
	case resp.Status != 0:
		res.Reason = "receipt status " + strconv.Itoa(resp.Status)
		return res, nil
	case p.cfg.BundleID != "" && resp.Receipt.BundleID != p.cfg.BundleID:
		res.Reason = "receipt for another app"
		return res, nil
	}

	var latest time.Time
	for _, info := range resp.LatestReceiptInfo {
		if token.ProductID != "" && info.ProductID != token.ProductID {
			continue
		}
		ms, err := strconv.ParseInt(info.ExpiresDateMS, 10, 64)
		if err != nil {
			continue
		}
		if exp := time.UnixMilli(ms).UTC(); exp.After(latest) {
			latest = exp
			res.ExternalSubscriptionID = info.OriginalTransactionID
			res.PlanCode = info.ProductID
		}
	}
	if latest.IsZero() || !latest.After(p.now()) {
		res.Reason = "no active subscription in receipt"
		return res, nil
	}
	code, cycle, err := p.cfg.Plans.Resolve(res.PlanCode)
	if err != nil {
		res.PlanCode = ""
		res.Reason = err.Error()
		return res, nil
	}
	res.Valid = true
	res.PlanCode, res.Cycle, res.PeriodEnd = code, cycle, latest
	return res, nil
}

func (p *AppleProvider) verifyReceipt(ctx context.Context, endpoint, receipt string) (*appleReceiptResponse, error) {
	body, err := json.Marshal(appleReceiptRequest{
		ReceiptData:            receipt,
		Password:               p.cfg.SharedSecret,
		ExcludeOldTransactions: true,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out appleReceiptResponse
	if err := doJSON(p.client, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// appleNotification is the decoded signedPayload of a V2 notification.
type appleNotification struct {
	gojwt.RegisteredClaims
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Data             struct {
		BundleID              string `json:"bundleId"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	} `json:"data"`
}

type appleTransaction struct {
	gojwt.RegisteredClaims
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	ExpiresDate           int64  `json:"expiresDate"`
	AppAccountToken       string `json:"appAccountToken"`
}

// HandleWebhook verifies the JWS signedPayload of a notification. Apple signs
// the payload itself, so the signature argument is not used.
func (p *AppleProvider) HandleWebhook(_ context.Context, payload []byte, _ string) (*WebhookResult, error) {
	var body struct {
		SignedPayload string `json:"signedPayload"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.SignedPayload == "" {
		return nil, ErrInvalidWebhookPayload
	}

	var n appleNotification
	if err := p.parseJWS(body.SignedPayload, &n); err != nil {
		return nil, err
	}
	if p.cfg.BundleID != "" && n.Data.BundleID != p.cfg.BundleID {
		return nil, fmt.Errorf("%w: notification for bundle %q", ErrWebhookVerificationFailed, n.Data.BundleID)
	}

	res := &WebhookResult{
		Kind:      KindIgnored,
		Provider:  ProviderApple,
		EventID:   n.NotificationUUID,
		EventType: n.NotificationType,
	}
	if n.Subtype != "" {
		res.EventType += "/" + n.Subtype
	}
	if n.Data.SignedTransactionInfo != "" {
		var tx appleTransaction
		if err := p.parseJWS(n.Data.SignedTransactionInfo, &tx); err != nil {
			return nil, err
		}
		res.WorkspaceID = tx.AppAccountToken
		res.ExternalSubscriptionID = tx.OriginalTransactionID
		if tx.ExpiresDate > 0 {
			res.PeriodEnd = time.UnixMilli(tx.ExpiresDate).UTC()
		}
		if code, cycle, err := p.cfg.Plans.Resolve(tx.ProductID); err == nil {
			res.PlanCode, res.Cycle = code, cycle
		}
	}

	switch n.NotificationType {
	case "SUBSCRIBED":
		res.Kind = KindActivated
	case "DID_RENEW":
		res.Kind = KindRenewed
	case "DID_FAIL_TO_RENEW":
		res.Kind = KindPaymentFailed
	case "EXPIRED", "GRACE_PERIOD_EXPIRED":
		res.Kind = KindExpired
	case "REFUND", "REVOKE":
		res.Kind, res.Immediate = KindCancelled, true
	case "DID_CHANGE_RENEWAL_STATUS":
		if n.Subtype == "AUTO_RENEW_DISABLED" {
			res.Kind = KindCancelled
		}
	}
	return res, nil
}

// parseJWS verifies an ES256 JWS whose x5c certificate chain leads to the
// configured root and decodes it into claims.
func (p *AppleProvider) parseJWS(token string, claims gojwt.Claims) error {
	if p.roots == nil {
		return fmt.Errorf("%w: apple root certificate not configured", ErrWebhookVerificationFailed)
	}
	_, err := gojwt.ParseWithClaims(token, claims, p.chainKey,
		gojwt.WithValidMethods([]string{gojwt.SigningMethodES256.Alg()}),
		gojwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return errors.Join(ErrWebhookVerificationFailed, err)
	}
	return nil
}

func (p *AppleProvider) chainKey(t *gojwt.Token) (any, error) {
	raw, ok := t.Header["x5c"].([]any)
	if !ok || len(raw) == 0 {
		return nil, errors.New("missing x5c header")
	}
	certs := make([]*x509.Certificate, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, errors.New("malformed x5c header")
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("x5c: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c: %w", err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	if _, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         p.roots,
		Intermediates: intermediates,
		CurrentTime:   p.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("x5c chain: %w", err)
	}
	pub, ok := certs[0].PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("x5c leaf is not an ECDSA key")
	}
	return pub, nil
}
