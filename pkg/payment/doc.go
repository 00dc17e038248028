// Package payment connects payment providers and app stores to the
// subscription lifecycle.
//
// Each integration implements Provider: it verifies purchases made by
// clients and turns signed webhooks into a WebhookResult whose Kind is one of
// ACTIVATED, RENEWED, PAYMENT_FAILED, CANCELLED, EXPIRED or IGNORED. The
// Orchestrator holds the providers registered at startup and applies those
// results to the subscription service:
//
//	orch := payment.NewOrchestrator(subscriptions)
//	stripe, err := payment.NewStripeProvider(cfg.Stripe)
//	if err != nil {
//		return err
//	}
//	if err := orch.Register(stripe); err != nil {
//		return err
//	}
//
//	res, err := orch.HandleWebhook(ctx, "stripe", body, r.Header.Get("Stripe-Signature"))
//
// A webhook that fails verification returns ErrWebhookVerificationFailed and
// never touches a subscription. Purchases and webhooks are attributed to a
// workspace through the workspace_id metadata (Stripe, Razorpay, Paddle), the
// appAccountToken (App Store) or the obfuscated account id (Google Play).
package payment
