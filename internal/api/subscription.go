package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/workspacekit/pkg/subscription"
	"github.com/dmitrymomot/workspacekit/pkg/tenant"
)

type subscriptionView struct {
	WorkspaceID        string                          `json:"workspace_id"`
	PlanCode           string                          `json:"plan"`
	EffectivePlan      string                          `json:"effective_plan"`
	Status             subscription.Status             `json:"status"`
	Cycle              subscription.BillingCycle       `json:"billing_cycle"`
	Provider           string                          `json:"provider,omitempty"`
	CurrentPeriodEnd   *time.Time                      `json:"current_period_end,omitempty"`
	TrialEndsAt        *time.Time                      `json:"trial_ends_at,omitempty"`
	GracePeriodEndsAt  *time.Time                      `json:"grace_period_ends_at,omitempty"`
	CancelAtPeriodEnd  bool                            `json:"cancel_at_period_end"`
	FailedPaymentCount int                             `json:"failed_payment_count"`
	TrialUsed          bool                            `json:"trial_used"`
	Limits             map[subscription.Resource]int64 `json:"limits"`
	Features           []subscription.Feature          `json:"features"`
	Version            int64                           `json:"version"`
}

func newSubscriptionView(s *subscription.Subscription, plan subscription.Plan) subscriptionView {
	return subscriptionView{
		WorkspaceID:        s.WorkspaceID,
		PlanCode:           s.PlanCode,
		EffectivePlan:      plan.Code,
		Status:             s.Status,
		Cycle:              s.Cycle,
		Provider:           s.Provider,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		TrialEndsAt:        s.TrialEndsAt,
		GracePeriodEndsAt:  s.GracePeriodEndsAt,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		FailedPaymentCount: s.FailedPaymentCount,
		TrialUsed:          s.TrialUsed,
		Limits:             plan.Limits,
		Features:           plan.Features,
		Version:            s.Version,
	}
}

func (a *API) subscriptionResponse(r *http.Request, status int, sub *subscription.Subscription) (Response, error) {
	plan, err := a.subs.EffectivePlan(r.Context(), sub.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return JSON(status, newSubscriptionView(sub, plan)), nil
}

// getSubscription provisions a FREE subscription on first access.
func (a *API) getSubscription(r *http.Request, _ empty) (Response, error) {
	ws, err := tenant.WorkspaceID(r.Context())
	if err != nil {
		return nil, err
	}
	sub, err := a.subs.Get(r.Context(), ws)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		sub, err = a.subs.CreateFree(r.Context(), ws)
	}
	if err != nil {
		return nil, err
	}
	return a.subscriptionResponse(r, http.StatusOK, sub)
}

type trialRequest struct {
	Plan string `json:"plan"`
}

func (a *API) startTrial(r *http.Request, req trialRequest) (Response, error) {
	ws, err := tenant.WorkspaceID(r.Context())
	if err != nil {
		return nil, err
	}
	if req.Plan == "" {
		req.Plan = subscription.PlanProfessional
	}
	sub, err := a.subs.StartTrial(r.Context(), ws, req.Plan)
	if err != nil {
		return nil, err
	}
	return a.subscriptionResponse(r, http.StatusOK, sub)
}

// cancelSubscription cancels at period end unless ?immediate=true.
func (a *API) cancelSubscription(r *http.Request, _ empty) (Response, error) {
	ws, err := tenant.WorkspaceID(r.Context())
	if err != nil {
		return nil, err
	}
	var immediate bool
	if v := r.URL.Query().Get("immediate"); v != "" {
		if immediate, err = strconv.ParseBool(v); err != nil {
			return nil, errors.Join(errBadRequest, err)
		}
	}
	sub, err := a.subs.Cancel(r.Context(), ws, immediate)
	if err != nil {
		return nil, err
	}
	return a.subscriptionResponse(r, http.StatusOK, sub)
}

type workspaceView struct {
	WorkspaceID string              `json:"workspace_id"`
	Status      subscription.Status `json:"status,omitempty"`
	Plan        string              `json:"plan"`
}

// listWorkspaces reports the subscription state of every workspace the
// caller belongs to. Each lookup runs in that workspace's own scope.
func (a *API) listWorkspaces(r *http.Request, _ empty) (Response, error) {
	p, ok := tenant.PrincipalFromContext(r.Context())
	if !ok {
		return nil, tenant.ErrUnauthenticated
	}
	member, ok := p.(interface{ Memberships() []string })
	if !ok {
		return JSON(http.StatusOK, []workspaceView{}), nil
	}

	out := make([]workspaceView, 0, len(member.Memberships()))
	for _, ws := range member.Memberships() {
		ctx := tenant.WithTenant(r.Context(), ws)
		view := workspaceView{WorkspaceID: ws, Plan: subscription.PlanFree}
		sub, err := a.subs.Get(ctx, ws)
		switch {
		case errors.Is(err, subscription.ErrSubscriptionNotFound):
		case err != nil:
			return nil, err
		default:
			view.Status = sub.Status
			plan, err := a.subs.EffectivePlan(ctx, ws)
			if err != nil {
				return nil, err
			}
			view.Plan = plan.Code
		}
		out = append(out, view)
	}
	return JSON(http.StatusOK, out), nil
}
