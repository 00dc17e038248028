package usage

// Config holds the USAGE_* settings.
type Config struct {
	KeyPrefix       string `env:"USAGE_KEY_PREFIX" envDefault:"usage"`
	WarningPercent  int    `env:"USAGE_WARNING_PERCENT" envDefault:"80"`
	RetentionMonths int    `env:"USAGE_RETENTION_MONTHS" envDefault:"12"`
}
