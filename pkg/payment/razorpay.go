package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RazorpayProvider verifies Razorpay subscription checkouts and webhooks.
// Purchase tokens are the JSON checkout handler response.
type RazorpayProvider struct {
	cfg    RazorpayConfig
	client *http.Client
}

type RazorpayOption func(*RazorpayProvider)

func WithRazorpayHTTPClient(c *http.Client) RazorpayOption {
	return func(p *RazorpayProvider) { p.client = c }
}

func NewRazorpayProvider(cfg RazorpayConfig, opts ...RazorpayOption) (*RazorpayProvider, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" || cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: razorpay", ErrMissingCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com/v1"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	p := &RazorpayProvider{cfg: cfg, client: defaultHTTPClient()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *RazorpayProvider) Name() string { return ProviderRazorpay }

// RazorpayCheckout is the payload the checkout handler returns to the client.
type RazorpayCheckout struct {
	PaymentID      string `json:"razorpay_payment_id"`
	SubscriptionID string `json:"razorpay_subscription_id"`
	Signature      string `json:"razorpay_signature"`
}

type razorpaySubscription struct {
	ID         string            `json:"id"`
	PlanID     string            `json:"plan_id"`
	CustomerID string            `json:"customer_id"`
	Status     string            `json:"status"`
	CurrentEnd int64             `json:"current_end"`
	Notes      map[string]string `json:"notes"`
}

func (p *RazorpayProvider) VerifyPurchase(ctx context.Context, workspaceID string, token PurchaseToken) (*PurchaseResult, error) {
	res := &PurchaseResult{Provider: ProviderRazorpay}

	var co RazorpayCheckout
	if err := json.Unmarshal([]byte(token.Token), &co); err != nil || co.PaymentID == "" || co.SubscriptionID == "" {
		res.Reason = "malformed checkout response"
		return res, nil
	}
	if !validHexHMAC(p.cfg.KeySecret, []byte(co.PaymentID+"|"+co.SubscriptionID), co.Signature) {
		res.Reason = "signature mismatch"
		return res, nil
	}

	sub, err := p.fetchSubscription(ctx, co.SubscriptionID)
	if err != nil {
		return nil, err
	}
	res.ExternalSubscriptionID = sub.ID
	if sub.Notes[workspaceMetadataKey] != workspaceID {
		res.Reason = "subscription belongs to another workspace"
		return res, nil
	}
	if sub.Status != "active" && sub.Status != "authenticated" {
		res.Reason = "subscription status " + sub.Status
		return res, nil
	}
	code, cycle, err := p.cfg.Plans.Resolve(sub.PlanID)
	if err != nil {
		res.Reason = err.Error()
		return res, nil
	}
	res.Valid = true
	res.PlanCode, res.Cycle = code, cycle
	res.ExternalCustomerID = sub.CustomerID
	res.PeriodEnd = unixTime(sub.CurrentEnd)
	return res, nil
}

func (p *RazorpayProvider) fetchSubscription(ctx context.Context, id string) (*razorpaySubscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.cfg.KeyID, p.cfg.KeySecret)
	var sub razorpaySubscription
	if err := doJSON(p.client, req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription *struct {
			Entity razorpaySubscription `json:"entity"`
		} `json:"subscription"`
		Payment *struct {
			Entity struct {
				ID    string            `json:"id"`
				Notes map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// HandleWebhook checks the X-Razorpay-Signature value, a hex HMAC-SHA256 of
// the raw body keyed with the webhook secret.
func (p *RazorpayProvider) HandleWebhook(_ context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if !validHexHMAC(p.cfg.WebhookSecret, payload, signature) {
		return nil, ErrWebhookVerificationFailed
	}
	var wh razorpayWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	res := &WebhookResult{Kind: KindIgnored, Provider: ProviderRazorpay, EventType: wh.Event}
	if s := wh.Payload.Subscription; s != nil {
		res.ExternalSubscriptionID = s.Entity.ID
		res.ExternalCustomerID = s.Entity.CustomerID
		res.WorkspaceID = s.Entity.Notes[workspaceMetadataKey]
		res.EventID = fmt.Sprintf("%s:%s:%d", wh.Event, s.Entity.ID, wh.CreatedAt)
		res.PeriodEnd = unixTime(s.Entity.CurrentEnd)
		if code, cycle, err := p.cfg.Plans.Resolve(s.Entity.PlanID); err == nil {
			res.PlanCode, res.Cycle = code, cycle
		}
	} else if pay := wh.Payload.Payment; pay != nil {
		res.WorkspaceID = pay.Entity.Notes[workspaceMetadataKey]
		res.EventID = pay.Entity.ID
	}

	switch wh.Event {
	case "subscription.activated":
		res.Kind = KindActivated
	case "subscription.charged":
		res.Kind = KindRenewed
	case "subscription.pending", "payment.failed":
		res.Kind = KindPaymentFailed
	case "subscription.halted", "subscription.completed":
		res.Kind = KindExpired
	case "subscription.cancelled":
		res.Kind, res.Immediate = KindCancelled, true
	}
	return res, nil
}

func validHexHMAC(secret string, msg []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), got)
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
