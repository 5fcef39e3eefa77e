package saga

import "time"

// Config holds orchestrator and reconciler settings.
type Config struct {
	MaxAttempts       int           `env:"SAGA_MAX_ATTEMPTS" envDefault:"3"`
	PaymentTimeout    time.Duration `env:"SAGA_PAYMENT_TIMEOUT" envDefault:"10s"`
	EffectsTimeout    time.Duration `env:"SAGA_EFFECTS_TIMEOUT" envDefault:"5s"`
	ReconcileInterval time.Duration `env:"SAGA_RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileBatch    int           `env:"SAGA_RECONCILE_BATCH" envDefault:"100"`
	OverdueGrace      time.Duration `env:"SAGA_OVERDUE_GRACE" envDefault:"30s"`

	// DefinitionFile is a YAML saga definition replacing the built-in order
	// saga. PaymentTimeout does not apply to it.
	DefinitionFile string `env:"SAGA_DEFINITION_FILE"`
}
