package subscription

// Status is the lifecycle state of a workspace subscription.
type Status string

const (
	StatusTrial     Status = "TRIAL"
	StatusActive    Status = "ACTIVE"
	StatusPastDue   Status = "PAST_DUE"
	StatusGrace     Status = "GRACE"
	StatusFree      Status = "FREE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no further automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// AllowsAccess reports whether the workspace may keep using the product.
func (s Status) AllowsAccess() bool {
	return s != "" && !s.Terminal()
}

// BillingCycle is the length of a paid period.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "MONTHLY"
	CycleQuarterly BillingCycle = "QUARTERLY"
	CycleAnnual    BillingCycle = "ANNUAL"
)

// Months returns the number of months in a cycle; unknown cycles count as one.
func (c BillingCycle) Months() int {
	switch c {
	case CycleQuarterly:
		return 3
	case CycleAnnual:
		return 12
	default:
		return 1
	}
}

// Resource is a quota-tracked counter.
type Resource string

const (
	// Monthly counters, reset on every period rollover.
	ResourceInvoices Resource = "invoices"
	ResourceOrders   Resource = "orders"
	ResourceAPICalls Resource = "api_calls"
	ResourceSMS      Resource = "sms"
	ResourceEmails   Resource = "emails"

	// Cumulative counters, moved only by create/delete events.
	ResourceCustomers Resource = "customers"
	ResourceProducts  Resource = "products"
	ResourceMembers   Resource = "members"
	ResourceDevices   Resource = "devices"
	ResourceStorage   Resource = "storage_bytes"
)

// MonthlyResources are the counters zeroed by the monthly reset.
var MonthlyResources = []Resource{
	ResourceInvoices, ResourceOrders, ResourceAPICalls, ResourceSMS, ResourceEmails,
}

// CumulativeResources are never reset.
var CumulativeResources = []Resource{
	ResourceCustomers, ResourceProducts, ResourceMembers, ResourceDevices, ResourceStorage,
}

// Monthly reports whether r is reset every period.
func (r Resource) Monthly() bool {
	switch r {
	case ResourceInvoices, ResourceOrders, ResourceAPICalls, ResourceSMS, ResourceEmails:
		return true
	}
	return false
}

// Valid reports whether r is a known resource.
func (r Resource) Valid() bool {
	if r.Monthly() {
		return true
	}
	switch r {
	case ResourceCustomers, ResourceProducts, ResourceMembers, ResourceDevices, ResourceStorage:
		return true
	}
	return false
}

// Feature is a plan capability flag or an enabled module code.
type Feature string

const (
	FeatureAPIAccess       Feature = "API_ACCESS"
	FeatureCustomBranding  Feature = "CUSTOM_BRANDING"
	FeatureSSO             Feature = "SSO"
	FeatureAuditLogs       Feature = "AUDIT_LOGS"
	FeaturePrioritySupport Feature = "PRIORITY_SUPPORT"

	ModuleCustomer  Feature = "CUSTOMER"
	ModuleProduct   Feature = "PRODUCT"
	ModuleInvoice   Feature = "INVOICE"
	ModuleOrder     Feature = "ORDER"
	ModuleInventory Feature = "INVENTORY"
	ModuleTally     Feature = "TALLY"
)

// Unlimited marks a resource without a cap.
const Unlimited int64 = -1

// Plan codes shipped in the default catalog.
const (
	PlanFree         = "FREE"
	PlanStarter      = "STARTER"
	PlanProfessional = "PROFESSIONAL"
	PlanEnterprise   = "ENTERPRISE"
)
