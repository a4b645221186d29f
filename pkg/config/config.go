// Package config loads jobqueue configuration from defaults, file, environment and flags.
package config

import "time"

const (
	// StoreMemory keeps queues in process memory. Nothing survives a restart.
	StoreMemory = "memory"
	// StoreRedis keeps queues in Redis lists and sorted sets.
	StoreRedis = "redis"
	// StorePostgres keeps queues in Postgres tables.
	StorePostgres = "postgres"
)

// Config is the root configuration for the queue manager, worker and CLI.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
	Management    ManagementConfig    `mapstructure:"management" yaml:"management"`
	Queue         QueueConfig         `mapstructure:"queue" yaml:"queue"`
	Worker        WorkerConfig        `mapstructure:"worker" yaml:"worker"`
	Redis         RedisConfig         `mapstructure:"redis" yaml:"redis"`
	Postgres      PostgresConfig      `mapstructure:"postgres" yaml:"postgres"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string  `mapstructure:"log_format" yaml:"log_format"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
}

// ManagementConfig configures the listener exposing /metrics and /health.
type ManagementConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// QueueConfig configures the queue manager.
type QueueConfig struct {
	Store        string        `mapstructure:"store" yaml:"store"` // memory, redis, postgres
	DefaultQueue string        `mapstructure:"default_queue" yaml:"default_queue"`
	StatusTTL    time.Duration `mapstructure:"status_ttl" yaml:"status_ttl"`
	// RequireDurable makes startup fail instead of degrading to the in-process store
	// when the configured durable store cannot be reached.
	RequireDurable bool `mapstructure:"require_durable" yaml:"require_durable"`
	// BreakerThreshold consecutive durable store failures open the circuit for BreakerCooldown.
	BreakerThreshold int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// WorkerConfig configures the polling worker.
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// RedisConfig configures the Redis queue store.
type RedisConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	Prefix           string        `mapstructure:"prefix" yaml:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	PromoteBatch     int           `mapstructure:"promote_batch" yaml:"promote_batch"`
}

// PostgresConfig configures the Postgres queue store.
type PostgresConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	TablePrefix      string        `mapstructure:"table_prefix" yaml:"table_prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	PromoteBatch     int           `mapstructure:"promote_batch" yaml:"promote_batch"`
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "jobqueue",
			Environment: "production",
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingEnabled:    false,
			TracingEndpoint:   "localhost:4317",
			TracingSampleRate: 0.1,
		},
		Management: ManagementConfig{
			Enabled: false,
			Address: ":9090",
		},
		Queue: QueueConfig{
			Store:        StoreMemory,
			DefaultQueue: "default",
			StatusTTL:    24 * time.Hour,

			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Worker: WorkerConfig{
			PollInterval: time.Second,
		},
		Redis: RedisConfig{
			URL:              "",
			Prefix:           "jobqueue",
			OperationTimeout: 5 * time.Second,
			PromoteBatch:     100,
		},
		Postgres: PostgresConfig{
			URL:              "",
			TablePrefix:      "jobqueue",
			OperationTimeout: 5 * time.Second,
			PromoteBatch:     100,
		},
	}
}
