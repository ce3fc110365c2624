package shardqueue

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config tunes a ShardExecutor. Zero values fall back to defaults.
type Config struct {
	Shards         int           `envconfig:"SHARDS" default:"4"`
	QueueSize      int           `envconfig:"QUEUE_SIZE" default:"128"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	BaseBackoff    time.Duration `envconfig:"BASE_BACKOFF" default:"100ms"`
	MaxInterval    time.Duration `envconfig:"MAX_INTERVAL" default:"5s"`

	// ErrorHandler observes every job that finally failed.
	ErrorHandler func(error) `ignored:"true"`
	Logger       zerolog.Logger `ignored:"true"`
}

// LoadConfig reads SQ_ prefixed environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("SQ", &cfg); err != nil {
		return Config{}, fmt.Errorf("shardqueue config: %w", err)
	}
	cfg.Logger = zerolog.Nop()
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	return c
}
