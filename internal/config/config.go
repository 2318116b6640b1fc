// Package config defines the global configuration structure for the Plainly
// backend. Configuration is loaded once at process initialization and is
// immutable thereafter; it follows 12-Factor principles by strictly
// separating code from configuration.
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup.
package config

import (
	"time"

	"plainly/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Mail     MailConfig
	Billing  BillingConfig
	Queue    QueueConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public dashboard URL, used for Stripe checkout redirects (no trailing slash).
	DashboardURL string `envconfig:"DASHBOARD_URL" default:"http://localhost:5173"`
	// Origins allowed to call the API from a browser. "*" allows any.
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	// RequestTimeout is the soft per-request deadline.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// MailConfig holds the outbound email provider credentials and sender
// identity defaults.
type MailConfig struct {
	ResendAPIKey SecretString `envconfig:"RESEND_API_KEY"`
	// VerifiedDomain is the sending domain verified with the provider. The
	// provider default domain only allows sandbox deliveries to the account
	// owner's own address.
	VerifiedDomain  string `envconfig:"VERIFIED_DOMAIN" default:"resend.dev"`
	DefaultFromName string `envconfig:"MAIL_FROM_NAME" default:"Plainly Team"`
}

// BillingConfig holds Stripe integration credentials.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// QueueConfig holds the delivery queue processor tuning knobs. These were
// fixed constants in early revisions; they are injected configuration so
// tests can run with small batches and zero delay.
type QueueConfig struct {
	// BatchSize bounds the number of due jobs fetched per cycle.
	BatchSize int `envconfig:"QUEUE_BATCH_SIZE" default:"50" validate:"min=1"`
	// SendDelay is the fixed inter-job throttle applied after every send,
	// success or failure.
	SendDelay time.Duration `envconfig:"QUEUE_SEND_DELAY" default:"100ms"`
	// MaxAttempts is the per-job attempt budget. A job reaching it is
	// terminally failed and never fetched again.
	MaxAttempts int `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3" validate:"min=1"`
	// StaleAfter is how long a job may sit in 'processing' before the reaper
	// returns it to 'pending' at the start of a cycle.
	StaleAfter time.Duration `envconfig:"QUEUE_STALE_AFTER" default:"10m"`
	// Schedule is the worker-variant cron expression for cycle invocation.
	Schedule string `envconfig:"QUEUE_SCHEDULE" default:"@every 1m"`
}

// MetricsConfig holds CloudWatch telemetry settings for the worker.
// An empty namespace disables metric emission.
type MetricsConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:""`
	Region    string `envconfig:"AWS_REGION" default:"us-east-1"`
}
