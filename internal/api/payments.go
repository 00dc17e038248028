package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/workspacekit/pkg/logger"
	"github.com/dmitrymomot/workspacekit/pkg/payment"
	"github.com/dmitrymomot/workspacekit/pkg/subscription"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

type verifyPurchaseRequest struct {
	Provider  string `json:"provider"`
	Token     string `json:"token"`
	ProductID string `json:"product_id"`
}

type purchaseView struct {
	Valid        bool                      `json:"valid"`
	Provider     string                    `json:"provider"`
	PlanCode     string                    `json:"plan"`
	Cycle        subscription.BillingCycle `json:"billing_cycle"`
	Subscription *subscriptionView         `json:"subscription,omitempty"`
}

func (a *API) verifyPurchase(r *http.Request, req verifyPurchaseRequest) (Response, error) {
	ws, err := tenant.WorkspaceID(r.Context())
	if err != nil {
		return nil, err
	}
	res, sub, err := a.payments.VerifyPurchase(r.Context(), ws, payment.PurchaseToken{
		Provider:  req.Provider,
		Token:     req.Token,
		ProductID: req.ProductID,
	})
	if err != nil {
		return nil, err
	}

	view := purchaseView{Valid: res.Valid, Provider: res.Provider, PlanCode: res.PlanCode, Cycle: res.Cycle}
	if sub != nil {
		plan, err := a.subs.EffectivePlan(r.Context(), ws)
		if err != nil {
			return nil, err
		}
		sv := newSubscriptionView(sub, plan)
		view.Subscription = &sv
	}
	return JSON(http.StatusOK, view), nil
}

// signatureHeaders names where each provider puts its webhook signature.
// Apple signs the payload itself; Google Pub/Sub push carries a shared token.
var signatureHeaders = map[string]string{
	payment.ProviderStripe:   "Stripe-Signature",
	payment.ProviderRazorpay: "X-Razorpay-Signature",
	payment.ProviderPaddle:   "Paddle-Signature",
	payment.ProviderGoogle:   "X-Goog-Push-Token",
}

func webhookSignature(provider string, r *http.Request) string {
	if provider == payment.ProviderGoogle {
		if t := r.URL.Query().Get("token"); t != "" {
			return t
		}
	}
	if h, ok := signatureHeaders[provider]; ok {
		return r.Header.Get(h)
	}
	return ""
}

type webhookView struct {
	Kind      payment.Kind `json:"kind"`
	EventID   string       `json:"event_id,omitempty"`
	EventType string       `json:"event_type,omitempty"`
}

// webhook acknowledges verified events with 200 so providers stop retrying,
// including events that change nothing. Failures to apply return 5xx and
// are retried by the provider.
func (a *API) webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.writeError(w, r, errors.Join(payment.ErrInvalidWebhookPayload, err))
		return
	}

	res, err := a.payments.HandleWebhook(r.Context(), provider, payload, webhookSignature(provider, r))
	if err != nil {
		if errors.Is(err, payment.ErrWebhookVerificationFailed) {
			a.log.WarnContext(r.Context(), "webhook rejected", logger.Provider(provider), logger.Error(err))
		}
		a.writeError(w, r, err)
		return
	}

	_ = JSON(http.StatusOK, webhookView{Kind: res.Kind, EventID: res.EventID, EventType: res.EventType}).Render(w, r)
}
