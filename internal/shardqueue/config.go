package shardqueue

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config tunes the executor. Zero values fall back to defaults in
// NewExecutor.
type Config struct {
	Shards         int           `envconfig:"SHARDS" default:"4"`
	QueueSize      int           `envconfig:"QUEUE_SIZE" default:"128"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"8"`
	BaseBackoff    time.Duration `envconfig:"BASE_BACKOFF" default:"100ms"`
	MaxInterval    time.Duration `envconfig:"MAX_INTERVAL" default:"20s"`

	// ErrorHandler receives errors from jobs that exhausted their retries.
	ErrorHandler func(error) `ignored:"true"`
}

// LoadConfig reads HEARTH_QUEUE_-prefixed environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("HEARTH_QUEUE", &cfg)
	return cfg, err
}
