package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleProvider verifies Paddle Billing subscriptions and webhooks. Checkout
// stores the workspace id in custom_data.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	plans    PlanMap
}

func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" || cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: paddle", ErrMissingCredentials)
	}

	var opts []paddle.Option
	if cfg.BaseURL != "" {
		opts = append(opts, paddle.WithBaseURL(cfg.BaseURL))
	}
	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey, opts...)
	case "production", "":
		client, err = paddle.New(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		plans:    cfg.Plans,
	}, nil
}

func (p *PaddleProvider) Name() string { return ProviderPaddle }

func (p *PaddleProvider) VerifyPurchase(ctx context.Context, workspaceID string, token PurchaseToken) (*PurchaseResult, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: token.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderError, err)
	}

	res := &PurchaseResult{
		Provider:               ProviderPaddle,
		ExternalSubscriptionID: sub.ID,
		ExternalCustomerID:     sub.CustomerID,
	}
	if owner, _ := sub.CustomData[workspaceMetadataKey].(string); owner != workspaceID {
		res.Reason = "subscription belongs to another workspace"
		return res, nil
	}
	if status := string(sub.Status); status != "active" && status != "trialing" {
		res.Reason = "subscription status " + status
		return res, nil
	}
	if len(sub.Items) == 0 {
		res.Reason = "subscription has no items"
		return res, nil
	}
	code, cycle, err := p.plans.Resolve(sub.Items[0].Price.ID)
	if err != nil {
		res.Reason = err.Error()
		return res, nil
	}
	res.Valid = true
	res.PlanCode, res.Cycle = code, cycle
	if sub.CurrentBillingPeriod != nil {
		res.PeriodEnd = parsePaddleTime(sub.CurrentBillingPeriod.EndsAt)
	}
	return res, nil
}

type paddleEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID             string         `json:"id"`
		Status         string         `json:"status"`
		CustomerID     string         `json:"customer_id"`
		SubscriptionID string         `json:"subscription_id"`
		CustomData     map[string]any `json:"custom_data"`
		Items          []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"items"`
		CurrentBillingPeriod *paddlePeriod `json:"current_billing_period"`
		BillingPeriod        *paddlePeriod `json:"billing_period"`
		ScheduledChange      *struct {
			Action string `json:"action"`
		} `json:"scheduled_change"`
	} `json:"data"`
}

type paddlePeriod struct {
	EndsAt string `json:"ends_at"`
}

// HandleWebhook verifies the Paddle-Signature header value with the SDK
// verifier and normalizes subscription and transaction events.
func (p *PaddleProvider) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Paddle-Signature", signature)
	ok, err := p.verifier.Verify(req)
	if err != nil || !ok {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	var ev paddleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}
	d := ev.Data
	res := &WebhookResult{
		Kind:               KindIgnored,
		Provider:           ProviderPaddle,
		EventID:            ev.EventID,
		EventType:          ev.EventType,
		ExternalCustomerID: d.CustomerID,
	}
	res.WorkspaceID, _ = d.CustomData[workspaceMetadataKey].(string)
	if len(d.Items) > 0 {
		if code, cycle, err := p.plans.Resolve(d.Items[0].Price.ID); err == nil {
			res.PlanCode, res.Cycle = code, cycle
		}
	}

	switch {
	case strings.HasPrefix(ev.EventType, "subscription."):
		res.ExternalSubscriptionID = d.ID
		if d.CurrentBillingPeriod != nil {
			res.PeriodEnd = parsePaddleTime(d.CurrentBillingPeriod.EndsAt)
		}
		switch {
		case ev.EventType == "subscription.canceled" || d.Status == "canceled":
			res.Kind, res.Immediate = KindCancelled, true
		case d.Status == "active" && d.ScheduledChange != nil && d.ScheduledChange.Action == "cancel":
			res.Kind = KindCancelled
		case d.Status == "active":
			res.Kind = KindActivated
		}
	case ev.EventType == "transaction.completed" && d.SubscriptionID != "":
		res.Kind = KindRenewed
		res.ExternalSubscriptionID = d.SubscriptionID
		if d.BillingPeriod != nil {
			res.PeriodEnd = parsePaddleTime(d.BillingPeriod.EndsAt)
		}
	case ev.EventType == "transaction.payment_failed" && d.SubscriptionID != "":
		res.Kind = KindPaymentFailed
		res.ExternalSubscriptionID = d.SubscriptionID
	}
	return res, nil
}

func parsePaddleTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
