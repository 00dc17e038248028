package payment

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleProvider verifies Play Billing subscriptions and real-time developer
// notifications delivered by a Pub/Sub push subscription. Apps pass the
// workspace id as obfuscatedAccountId when they launch the billing flow.
type GoogleProvider struct {
	cfg       GoogleConfig
	publisher *androidpublisher.Service
}

type GoogleOption func(*googleOptions)

type googleOptions struct {
	client *http.Client
}

// WithGoogleHTTPClient uses c for API calls instead of service account
// credentials.
func WithGoogleHTTPClient(c *http.Client) GoogleOption {
	return func(o *googleOptions) { o.client = c }
}

func NewGoogleProvider(ctx context.Context, cfg GoogleConfig, opts ...GoogleOption) (*GoogleProvider, error) {
	var o googleOptions
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.PackageName == "" || cfg.PushToken == "" {
		return nil, fmt.Errorf("%w: google play", ErrMissingCredentials)
	}

	var clientOpts []option.ClientOption
	switch {
	case o.client != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(o.client))
	case cfg.ServiceAccountJSON != "":
		creds, err := google.CredentialsFromJSON(ctx, []byte(cfg.ServiceAccountJSON), androidpublisher.AndroidpublisherScope)
		if err != nil {
			return nil, fmt.Errorf("%w: google play service account: %w", ErrMissingCredentials, err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(creds.TokenSource))
	default:
		return nil, fmt.Errorf("%w: google play service account", ErrMissingCredentials)
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := androidpublisher.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderError, err)
	}
	return &GoogleProvider{cfg: cfg, publisher: svc}, nil
}

func (p *GoogleProvider) Name() string { return ProviderGoogle }

type googlePurchase struct {
	state       string
	productID   string
	expiry      time.Time
	workspaceID string
	orderID     string
}

func (p *GoogleProvider) fetch(ctx context.Context, purchaseToken string) (*googlePurchase, error) {
	sub, err := p.publisher.Purchases.Subscriptionsv2.Get(p.cfg.PackageName, purchaseToken).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusBadRequest) {
			return nil, ErrInvalidPurchaseToken
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderError, err)
	}
	out := &googlePurchase{state: sub.SubscriptionState, orderID: sub.LatestOrderId}
	if sub.ExternalAccountIdentifiers != nil {
		out.workspaceID = sub.ExternalAccountIdentifiers.ObfuscatedExternalAccountId
	}
	for _, item := range sub.LineItems {
		exp, err := time.Parse(time.RFC3339Nano, item.ExpiryTime)
		if err != nil {
			continue
		}
		if exp.After(out.expiry) {
			out.expiry = exp.UTC()
			out.productID = item.ProductId
		}
	}
	return out, nil
}

func (p *GoogleProvider) VerifyPurchase(ctx context.Context, workspaceID string, token PurchaseToken) (*PurchaseResult, error) {
	res := &PurchaseResult{Provider: ProviderGoogle}
	gp, err := p.fetch(ctx, token.Token)
	if errors.Is(err, ErrInvalidPurchaseToken) {
		res.Reason = "unknown purchase token"
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.ExternalSubscriptionID = token.Token
	switch {
	case gp.workspaceID != workspaceID:
		res.Reason = "purchase belongs to another workspace"
		return res, nil
	case gp.state != "SUBSCRIPTION_STATE_ACTIVE" && gp.state != "SUBSCRIPTION_STATE_IN_GRACE_PERIOD":
		res.Reason = "subscription state " + gp.state
		return res, nil
	}
	code, cycle, err := p.cfg.Plans.Resolve(gp.productID)
	if err != nil {
		res.Reason = err.Error()
		return res, nil
	}
	res.Valid = true
	res.PlanCode, res.Cycle, res.PeriodEnd = code, cycle, gp.expiry
	return res, nil
}

// Real-time developer notification types.
const (
	googleRecovered            = 1
	googleRenewed              = 2
	googleCanceled             = 3
	googlePurchased            = 4
	googleOnHold               = 5
	googleInGracePeriod        = 6
	googleRestarted            = 7
	googlePriceChangeConfirmed = 8
	googleDeferred             = 9
	googlePaused               = 10
	googlePauseScheduleChanged = 11
	googleRevoked              = 12
	googleExpired              = 13
)

var googleKinds = map[int]Kind{
	googleRecovered:            KindRenewed,
	googleRenewed:              KindRenewed,
	googleCanceled:             KindCancelled,
	googlePurchased:            KindActivated,
	googleOnHold:               KindPaymentFailed,
	googleInGracePeriod:        KindPaymentFailed,
	googleRestarted:            KindActivated,
	googlePriceChangeConfirmed: KindIgnored,
	googleDeferred:             KindRenewed,
	googlePaused:               KindIgnored,
	googlePauseScheduleChanged: KindIgnored,
	googleRevoked:              KindCancelled,
	googleExpired:              KindExpired,
}

type pubsubPush struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type googleNotification struct {
	PackageName              string `json:"packageName"`
	EventTimeMillis          string `json:"eventTimeMillis"`
	SubscriptionNotification *struct {
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification"`
}

// HandleWebhook accepts a Pub/Sub push body. signature must equal the push
// token configured on the subscription. The notification only names the
// purchase, so the current state is read back from the Play API.
func (p *GoogleProvider) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if subtle.ConstantTimeCompare([]byte(signature), []byte(p.cfg.PushToken)) != 1 {
		return nil, ErrWebhookVerificationFailed
	}
	var push pubsubPush
	if err := json.Unmarshal(payload, &push); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}
	data, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}
	var n googleNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	res := &WebhookResult{Kind: KindIgnored, Provider: ProviderGoogle, EventID: push.Message.MessageID}
	sn := n.SubscriptionNotification
	if sn == nil || n.PackageName != p.cfg.PackageName {
		res.EventType = "other"
		return res, nil
	}
	res.EventType = "subscription/" + strconv.Itoa(sn.NotificationType)
	kind, ok := googleKinds[sn.NotificationType]
	if !ok || kind == KindIgnored {
		return res, nil
	}

	gp, err := p.fetch(ctx, sn.PurchaseToken)
	if err != nil {
		return nil, err
	}
	res.Kind = kind
	res.WorkspaceID = gp.workspaceID
	res.ExternalSubscriptionID = sn.PurchaseToken
	res.PeriodEnd = gp.expiry
	if code, cycle, err := p.cfg.Plans.Resolve(gp.productID); err == nil {
		res.PlanCode, res.Cycle = code, cycle
	}
	if sn.NotificationType == googleRevoked {
		res.Immediate = true
	}
	return res, nil
}
