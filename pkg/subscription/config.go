package subscription

// Config holds the lifecycle settings read from SUBSCRIPTION_* variables.
type Config struct {
	FailedPaymentThreshold int    `env:"SUBSCRIPTION_FAILED_PAYMENT_THRESHOLD" envDefault:"3"`
	GraceDays              int    `env:"SUBSCRIPTION_GRACE_DAYS" envDefault:"7"`
	TrialDays              int    `env:"SUBSCRIPTION_TRIAL_DAYS" envDefault:"14"`
	PlansFile              string `env:"SUBSCRIPTION_PLANS_FILE"`
	MaxConflictRetries     int    `env:"SUBSCRIPTION_MAX_CONFLICT_RETRIES" envDefault:"3"`
}

// Policy returns the time-based transition knobs of c.
func (c Config) Policy() Policy {
	return Policy{
		FailedPaymentThreshold: c.FailedPaymentThreshold,
		GraceDays:              c.GraceDays,
	}
}
