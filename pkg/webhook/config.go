package webhook

import "time"

// Config configures the transition notifier. An empty URL disables it.
type Config struct {
	URL              string        `env:"WEBHOOK_URL"`
	Secret           string        `env:"WEBHOOK_SECRET"`
	Timeout          time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	MaxRetries       int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"3"`
	InitialBackoff   time.Duration `env:"WEBHOOK_INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff       time.Duration `env:"WEBHOOK_MAX_BACKOFF" envDefault:"30s"`
	FailureThreshold int           `env:"WEBHOOK_FAILURE_THRESHOLD" envDefault:"5"`
	RecoveryTimeout  time.Duration `env:"WEBHOOK_RECOVERY_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether a target URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}
