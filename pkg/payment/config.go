package payment

// StripeConfig holds STRIPE_* settings.
type StripeConfig struct {
	APIKey        string  `env:"STRIPE_API_KEY"`
	WebhookSecret string  `env:"STRIPE_WEBHOOK_SECRET"`
	Plans         PlanMap `env:"STRIPE_PRICE_PLANS"`
	// BaseURL overrides the API endpoint, for stripe-mock and tests.
	BaseURL string `env:"STRIPE_BASE_URL"`
}

// RazorpayConfig holds RAZORPAY_* settings.
type RazorpayConfig struct {
	KeyID         string  `env:"RAZORPAY_KEY_ID"`
	KeySecret     string  `env:"RAZORPAY_KEY_SECRET"`
	WebhookSecret string  `env:"RAZORPAY_WEBHOOK_SECRET"`
	Plans         PlanMap `env:"RAZORPAY_PLANS"`
	BaseURL       string  `env:"RAZORPAY_BASE_URL" envDefault:"https://api.razorpay.com/v1"`
}

// AppleConfig holds APPLE_* settings.
type AppleConfig struct {
	SharedSecret string  `env:"APPLE_SHARED_SECRET"`
	BundleID     string  `env:"APPLE_BUNDLE_ID"`
	Plans        PlanMap `env:"APPLE_PRODUCT_PLANS"`
	// RootCertificate is the PEM encoded root that notification signing
	// chains must lead to.
	RootCertificate string `env:"APPLE_ROOT_CERTIFICATE"`
	VerifyURL       string `env:"APPLE_VERIFY_URL" envDefault:"https://buy.itunes.apple.com/verifyReceipt"`
	SandboxURL      string `env:"APPLE_SANDBOX_URL" envDefault:"https://sandbox.itunes.apple.com/verifyReceipt"`
}

// GoogleConfig holds GOOGLE_PLAY_* settings.
type GoogleConfig struct {
	PackageName        string  `env:"GOOGLE_PLAY_PACKAGE_NAME"`
	ServiceAccountJSON string  `env:"GOOGLE_PLAY_SERVICE_ACCOUNT_JSON"`
	Plans              PlanMap `env:"GOOGLE_PLAY_PRODUCT_PLANS"`
	// PushToken is the shared secret configured on the Pub/Sub push
	// subscription and sent back as the webhook signature.
	PushToken string `env:"GOOGLE_PLAY_PUSH_TOKEN"`
	Endpoint  string `env:"GOOGLE_PLAY_ENDPOINT"`
}

// PaddleConfig holds PADDLE_* settings.
type PaddleConfig struct {
	APIKey        string  `env:"PADDLE_API_KEY"`
	WebhookSecret string  `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string  `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	Plans         PlanMap `env:"PADDLE_PRICE_PLANS"`
	BaseURL       string  `env:"PADDLE_BASE_URL"`
}

// Config groups every provider. A provider is enabled when its credentials
// are present.
type Config struct {
	Stripe   StripeConfig
	Razorpay RazorpayConfig
	Apple    AppleConfig
	Google   GoogleConfig
	Paddle   PaddleConfig
}
