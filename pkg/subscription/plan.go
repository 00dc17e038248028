package subscription

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const gib = int64(1) << 30

// Plan is a named tier with quotas and feature flags.
type Plan struct {
	Code       string             `yaml:"code"`
	Name       string             `yaml:"name"`
	Limits     map[Resource]int64 `yaml:"limits"`
	SoftLimits []Resource         `yaml:"soft_limits"`
	Features   []Feature          `yaml:"features"`
	TrialDays  int                `yaml:"trial_days"`
}

// Limit returns the cap for r. Resources missing from the plan are unlimited.
func (p Plan) Limit(r Resource) int64 {
	if limit, ok := p.Limits[r]; ok {
		return limit
	}
	return Unlimited
}

// Soft reports whether exceeding r's limit is only logged.
func (p Plan) Soft(r Resource) bool {
	return slices.Contains(p.SoftLimits, r)
}

func (p Plan) HasFeature(f Feature) bool {
	return slices.ContainsFunc(p.Features, func(x Feature) bool {
		return strings.EqualFold(string(x), string(f))
	})
}

// Catalog is the static plan table keyed by plan code.
type Catalog map[string]Plan

// Get returns the plan with code.
func (c Catalog) Get(code string) (Plan, error) {
	p, ok := c[code]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, code)
	}
	return p, nil
}

// Validate checks the catalog has a FREE plan and consistent entries.
func (c Catalog) Validate() error {
	if _, ok := c[PlanFree]; !ok {
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("catalog must define the FREE plan"))
	}
	for code, p := range c {
		if p.Code != code {
			return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan key %s does not match code %s", code, p.Code))
		}
		if p.TrialDays < 0 {
			return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan %s has negative trial days", code))
		}
		for r, limit := range p.Limits {
			if !r.Valid() {
				return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan %s limits unknown resource %q", code, r))
			}
			if limit < Unlimited {
				return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("plan %s has invalid limit %d for %s", code, limit, r))
			}
		}
	}
	return nil
}

// DefaultCatalog returns the built-in FREE/STARTER/PROFESSIONAL/ENTERPRISE plans.
func DefaultCatalog() Catalog {
	base := []Feature{ModuleCustomer, ModuleProduct, ModuleInvoice}
	return Catalog{
		PlanFree: {
			Code: PlanFree,
			Name: "Free",
			Limits: map[Resource]int64{
				ResourceCustomers: 50,
				ResourceProducts:  50,
				ResourceInvoices:  20,
				ResourceOrders:    20,
				ResourceMembers:   1,
				ResourceDevices:   2,
				ResourceStorage:   1 * gib,
				ResourceAPICalls:  0,
				ResourceSMS:       0,
				ResourceEmails:    50,
			},
			SoftLimits: []Resource{ResourceStorage},
			Features:   base,
		},
		PlanStarter: {
			Code: PlanStarter,
			Name: "Starter",
			Limits: map[Resource]int64{
				ResourceCustomers: 500,
				ResourceProducts:  500,
				ResourceInvoices:  100,
				ResourceOrders:    100,
				ResourceMembers:   3,
				ResourceDevices:   3,
				ResourceStorage:   5 * gib,
				ResourceAPICalls:  0,
				ResourceSMS:       100,
				ResourceEmails:    500,
			},
			SoftLimits: []Resource{ResourceStorage},
			Features:   append(slices.Clone(base), ModuleOrder),
			TrialDays:  14,
		},
		PlanProfessional: {
			Code: PlanProfessional,
			Name: "Professional",
			Limits: map[Resource]int64{
				ResourceCustomers: 5000,
				ResourceProducts:  5000,
				ResourceInvoices:  100,
				ResourceOrders:    1000,
				ResourceMembers:   10,
				ResourceDevices:   5,
				ResourceStorage:   25 * gib,
				ResourceAPICalls:  100_000,
				ResourceSMS:       1000,
				ResourceEmails:    5000,
			},
			SoftLimits: []Resource{ResourceStorage},
			Features: append(slices.Clone(base), ModuleOrder, ModuleInventory, ModuleTally,
				FeatureAPIAccess, FeatureCustomBranding),
			TrialDays: 14,
		},
		PlanEnterprise: {
			Code: PlanEnterprise,
			Name: "Enterprise",
			Limits: map[Resource]int64{
				ResourceCustomers: Unlimited,
				ResourceProducts:  Unlimited,
				ResourceInvoices:  Unlimited,
				ResourceOrders:    Unlimited,
				ResourceMembers:   Unlimited,
				ResourceDevices:   Unlimited,
				ResourceStorage:   Unlimited,
				ResourceAPICalls:  Unlimited,
				ResourceSMS:       Unlimited,
				ResourceEmails:    Unlimited,
			},
			Features: append(slices.Clone(base), ModuleOrder, ModuleInventory, ModuleTally,
				FeatureAPIAccess, FeatureCustomBranding, FeatureSSO, FeatureAuditLogs, FeaturePrioritySupport),
			TrialDays: 30,
		},
	}
}

// LoadCatalog decodes a YAML list of plans.
//
//	- code: FREE
//	  name: Free
//	  limits: {customers: 50, invoices: 20, devices: 2}
//	  features: [CUSTOMER, INVOICE]
func LoadCatalog(r io.Reader) (Catalog, error) {
	var plans []Plan
	if err := yaml.NewDecoder(r).Decode(&plans); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	c := make(Catalog, len(plans))
	for _, p := range plans {
		p.Code = strings.ToUpper(p.Code)
		if _, dup := c[p.Code]; dup {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan %s", p.Code))
		}
		c[p.Code] = p
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCatalogFile reads a YAML catalog from path, or returns DefaultCatalog when path is empty.
func LoadCatalogFile(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}
