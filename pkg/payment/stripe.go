package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// workspaceMetadataKey is the metadata or custom data key every provider
// checkout stores the workspace id under.
const workspaceMetadataKey = "workspace_id"

// StripeProvider verifies Stripe subscriptions and webhooks. Purchase tokens
// are Stripe subscription ids created by checkout with the workspace id in
// their metadata.
type StripeProvider struct {
	client        *stripesub.Client
	webhookSecret string
	plans         PlanMap
}

func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.APIKey == "" || cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe", ErrMissingCredentials)
	}
	bc := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(2),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(cfg.BaseURL)
	}
	return &StripeProvider{
		client:        &stripesub.Client{B: stripe.GetBackendWithConfig(stripe.APIBackend, bc), Key: cfg.APIKey},
		webhookSecret: cfg.WebhookSecret,
		plans:         cfg.Plans,
	}, nil
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) VerifyPurchase(ctx context.Context, workspaceID string, token PurchaseToken) (*PurchaseResult, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.client.Get(token.Token, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return &PurchaseResult{Provider: ProviderStripe, Reason: "unknown subscription"}, nil
		}
		return nil, errors.Join(ErrProviderError, err)
	}

	res := &PurchaseResult{Provider: ProviderStripe, ExternalSubscriptionID: sub.ID}
	if owner := sub.Metadata[workspaceMetadataKey]; owner != workspaceID {
		res.Reason = "subscription belongs to another workspace"
		return res, nil
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
	default:
		res.Reason = "subscription status " + string(sub.Status)
		return res, nil
	}
	if err := p.fill(res, sub); err != nil {
		res.Reason = err.Error()
		return res, nil
	}
	res.Valid = true
	return res, nil
}

func (p *StripeProvider) fill(res *PurchaseResult, sub *stripe.Subscription) error {
	if sub.Customer != nil {
		res.ExternalCustomerID = sub.Customer.ID
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return fmt.Errorf("%w: subscription has no price", ErrUnknownProduct)
	}
	item := sub.Items.Data[0]
	code, cycle, err := p.plans.Resolve(item.Price.ID)
	if err != nil {
		return err
	}
	res.PlanCode, res.Cycle = code, cycle
	if item.CurrentPeriodEnd > 0 {
		res.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return nil
}

func (p *StripeProvider) HandleWebhook(_ context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	res := &WebhookResult{
		Kind:      KindIgnored,
		Provider:  ProviderStripe,
		EventID:   event.ID,
		EventType: string(event.Type),
	}
	if event.Data == nil {
		return res, nil
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		p.subscriptionEvent(res, &sub, event.Type == "customer.subscription.deleted")
	case "invoice.paid", "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		p.invoiceEvent(res, &inv, event.Type == "invoice.paid")
	}
	return res, nil
}

func (p *StripeProvider) subscriptionEvent(res *WebhookResult, sub *stripe.Subscription, deleted bool) {
	res.WorkspaceID = sub.Metadata[workspaceMetadataKey]
	res.ExternalSubscriptionID = sub.ID

	if deleted {
		res.Kind, res.Immediate = KindCancelled, true
		return
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive:
		if sub.CancelAtPeriodEnd {
			res.Kind = KindCancelled
			return
		}
		var pr PurchaseResult
		if err := p.fill(&pr, sub); err != nil {
			return
		}
		res.Kind = KindActivated
		res.PlanCode, res.Cycle, res.PeriodEnd = pr.PlanCode, pr.Cycle, pr.PeriodEnd
		res.ExternalCustomerID = pr.ExternalCustomerID
	case stripe.SubscriptionStatusCanceled:
		res.Kind, res.Immediate = KindCancelled, true
	case stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		res.Kind = KindExpired
	}
}

func (p *StripeProvider) invoiceEvent(res *WebhookResult, inv *stripeInvoice, paid bool) {
	res.ExternalSubscriptionID, res.WorkspaceID = inv.subscription()
	if res.ExternalSubscriptionID == "" {
		return
	}
	res.ExternalCustomerID = string(inv.Customer)
	if !paid {
		res.Kind = KindPaymentFailed
		return
	}
	res.Kind = KindRenewed
	if len(inv.Lines.Data) > 0 {
		line := inv.Lines.Data[0]
		if line.Period.End > 0 {
			res.PeriodEnd = time.Unix(line.Period.End, 0).UTC()
		}
		if code, cycle, err := p.plans.Resolve(line.priceID()); err == nil {
			res.PlanCode, res.Cycle = code, cycle
		}
	}
}

// stripeInvoice is the subset of an invoice webhook object the provider
// reads. It accepts both the pre-2025 shape (subscription on the invoice)
// and the current one (subscription under parent).
type stripeInvoice struct {
	ID                  string         `json:"id"`
	Customer            stripeID       `json:"customer"`
	Subscription        stripeID       `json:"subscription"`
	SubscriptionDetails *stripeSubLink `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *stripeSubLink `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []stripeInvoiceLine `json:"data"`
	} `json:"lines"`
}

type stripeSubLink struct {
	Subscription stripeID          `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeInvoiceLine struct {
	Period struct {
		End int64 `json:"end"`
	} `json:"period"`
	Price *struct {
		ID string `json:"id"`
	} `json:"price"`
	Pricing *struct {
		PriceDetails *struct {
			Price string `json:"price"`
		} `json:"price_details"`
	} `json:"pricing"`
}

func (l stripeInvoiceLine) priceID() string {
	if l.Pricing != nil && l.Pricing.PriceDetails != nil {
		return l.Pricing.PriceDetails.Price
	}
	if l.Price != nil {
		return l.Price.ID
	}
	return ""
}

func (inv *stripeInvoice) subscription() (id, workspaceID string) {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		d := inv.Parent.SubscriptionDetails
		return string(d.Subscription), d.Metadata[workspaceMetadataKey]
	}
	if inv.SubscriptionDetails != nil {
		workspaceID = inv.SubscriptionDetails.Metadata[workspaceMetadataKey]
	}
	return string(inv.Subscription), workspaceID
}

// stripeID decodes an expandable field, either "id" or {"id": "..."}.
type stripeID string

func (s *stripeID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = stripeID(v)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*s = stripeID(obj.ID)
	return nil
}
