package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable, e.g. JOBQUEUE_REDIS_URL.
const DefaultEnvPrefix = "JOBQUEUE"

// flagBindings maps config keys to the CLI flags allowed to override them.
var flagBindings = map[string]string{
	"observability.log_level":  "log-level",
	"observability.log_format": "log-format",
	"queue.store":              "store",
	"queue.default_queue":      "default-queue",
	"queue.require_durable":    "require-durable",
	"worker.poll_interval":     "poll-interval",
	"redis.url":                "redis-url",
	"postgres.url":             "postgres-url",
	"management.enabled":       "management-enabled",
	"management.address":       "management-address",
}

// ViperLoader loads Config with precedence flags > env > file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a loader. configFile may be empty; envPrefix defaults to JOBQUEUE.
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// WithFlags lets changed flags from the set override loaded values.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// Load reads, merges and validates configuration.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.prefix())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := l.bindFlags(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for key, name := range flagBindings {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (l *ViperLoader) prefix() string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return strings.ToUpper(prefix)
}

// setDefaults registers every key so AutomaticEnv can resolve nested fields during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.address", cfg.Management.Address)

	v.SetDefault("queue.store", cfg.Queue.Store)
	v.SetDefault("queue.default_queue", cfg.Queue.DefaultQueue)
	v.SetDefault("queue.status_ttl", cfg.Queue.StatusTTL)
	v.SetDefault("queue.require_durable", cfg.Queue.RequireDurable)
	v.SetDefault("queue.breaker_threshold", cfg.Queue.BreakerThreshold)
	v.SetDefault("queue.breaker_cooldown", cfg.Queue.BreakerCooldown)

	v.SetDefault("worker.poll_interval", cfg.Worker.PollInterval)

	v.SetDefault("redis.url", cfg.Redis.URL)
	v.SetDefault("redis.prefix", cfg.Redis.Prefix)
	v.SetDefault("redis.operation_timeout", cfg.Redis.OperationTimeout)
	v.SetDefault("redis.promote_batch", cfg.Redis.PromoteBatch)

	v.SetDefault("postgres.url", cfg.Postgres.URL)
	v.SetDefault("postgres.table_prefix", cfg.Postgres.TablePrefix)
	v.SetDefault("postgres.operation_timeout", cfg.Postgres.OperationTimeout)
	v.SetDefault("postgres.promote_batch", cfg.Postgres.PromoteBatch)
}
