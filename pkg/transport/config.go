package transport

import "time"

const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// Config selects and tunes the bus.
type Config struct {
	Backend       string        `env:"TRANSPORT" envDefault:"local"`
	Stream        string        `env:"TRANSPORT_STREAM" envDefault:"saga:events"`
	Group         string        `env:"TRANSPORT_GROUP" envDefault:"orchestrator"`
	Consumer      string        `env:"TRANSPORT_CONSUMER"` // Defaults to a random id per process.
	BatchSize     int64         `env:"TRANSPORT_BATCH_SIZE" envDefault:"32"`
	Block         time.Duration `env:"TRANSPORT_BLOCK" envDefault:"2s"`
	ClaimMinIdle  time.Duration `env:"TRANSPORT_CLAIM_MIN_IDLE" envDefault:"30s"`
	ClaimInterval time.Duration `env:"TRANSPORT_CLAIM_INTERVAL" envDefault:"10s"`
	MaxConcurrent int           `env:"TRANSPORT_MAX_CONCURRENT" envDefault:"16"`
	HandleTimeout time.Duration `env:"TRANSPORT_HANDLE_TIMEOUT" envDefault:"30s"`
	MaxLen        int64         `env:"TRANSPORT_MAX_LEN" envDefault:"100000"` // Approximate stream cap, 0 disables trimming.

	// MaxDeliveries caps how often a failing envelope is handed to the
	// handler. After that it is moved to DeadLetterStream and acked.
	MaxDeliveries    int64  `env:"TRANSPORT_MAX_DELIVERIES" envDefault:"10"`
	DeadLetterStream string `env:"TRANSPORT_DLQ_STREAM"` // Defaults to <stream>:dlq.
}
