package device

// Config holds the DEVICE_* settings.
type Config struct {
	TokenSecret       string `env:"DEVICE_TOKEN_SECRET,required"`
	TokenIssuer       string `env:"DEVICE_TOKEN_ISSUER" envDefault:"workspacekit"`
	TokenValidityDays int    `env:"DEVICE_TOKEN_VALIDITY_DAYS" envDefault:"7"`
	GracePeriodDays   int    `env:"DEVICE_GRACE_PERIOD_DAYS" envDefault:"3"`
	MaxOfflineDays    int    `env:"DEVICE_MAX_OFFLINE_DAYS" envDefault:"30"`
}
