package payment

import (
	"fmt"
	"strings"

	"github.com/dmitrymomot/workspacekit/pkg/subscription"
)

// PlanMap maps provider product or price ids to plan codes. A value may carry
// a billing cycle after a slash: "PROFESSIONAL/ANNUAL". Without one the cycle
// is monthly.
type PlanMap map[string]string

// Resolve returns the plan and cycle for a provider product id.
func (m PlanMap) Resolve(productID string) (string, subscription.BillingCycle, error) {
	ref, ok := m[productID]
	if !ok || productID == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownProduct, productID)
	}
	code, cycle, _ := strings.Cut(ref, "/")
	if cycle == "" {
		return code, subscription.CycleMonthly, nil
	}
	return code, subscription.BillingCycle(strings.ToUpper(cycle)), nil
}
