package payment

import (
	"context"
	"time"

	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

// Provider names used as purchase token tags and webhook routes.
const (
	ProviderStripe   = "stripe"
	ProviderRazorpay = "razorpay"
	ProviderApple    = "apple"
	ProviderGoogle   = "google"
	ProviderPaddle   = "paddle"
)

// Kind is the normalized meaning of a provider webhook.
type Kind string

const (
	KindActivated     Kind = "ACTIVATED"
	KindRenewed       Kind = "RENEWED"
	KindPaymentFailed Kind = "PAYMENT_FAILED"
	KindCancelled     Kind = "CANCELLED"
	KindExpired       Kind = "EXPIRED"
	KindIgnored       Kind = "IGNORED"
)

// PurchaseToken is what a client sends after completing a purchase. Provider
// selects the adapter; Token is opaque to everything but that adapter.
type PurchaseToken struct {
	Provider  string `json:"provider"`
	Token     string `json:"token"`
	ProductID string `json:"product_id,omitempty"`
}

// PurchaseResult is a verified purchase in provider independent form.
type PurchaseResult struct {
	Valid                  bool                      `json:"valid"`
	Provider               string                    `json:"provider"`
	PlanCode               string                    `json:"plan_code,omitempty"`
	Cycle                  subscription.BillingCycle `json:"cycle,omitempty"`
	ExternalSubscriptionID string                    `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string                    `json:"external_customer_id,omitempty"`
	PeriodEnd              time.Time                 `json:"period_end,omitzero"`
	// Reason explains an invalid result.
	Reason string `json:"reason,omitempty"`
}

// WebhookResult is a verified provider notification in provider independent
// form. WorkspaceID is empty when the notification cannot be attributed.
type WebhookResult struct {
	Kind                   Kind
	Provider               string
	EventID                string
	EventType              string
	WorkspaceID            string
	PlanCode               string
	Cycle                  subscription.BillingCycle
	ExternalSubscriptionID string
	ExternalCustomerID     string
	PeriodEnd              time.Time
	// Immediate is set on cancellations that take effect now rather than at
	// the end of the paid period.
	Immediate bool
}

// Provider is one payment or store integration.
type Provider interface {
	Name() string
	// VerifyPurchase checks token with the provider. An invalid purchase is a
	// result with Valid false, not an error; errors mean the provider could
	// not be asked.
	VerifyPurchase(ctx context.Context, workspaceID string, token PurchaseToken) (*PurchaseResult, error)
	// HandleWebhook verifies signature over payload and normalizes the event.
	// It fails with ErrWebhookVerificationFailed for forged payloads.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
}
