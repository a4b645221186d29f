package config

import (
	"fmt"
	"regexp"
	"strings"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (c *Config) normalize() {
	c.Queue.Store = strings.ToLower(strings.TrimSpace(c.Queue.Store))
	c.Queue.DefaultQueue = strings.TrimSpace(c.Queue.DefaultQueue)
	if c.Queue.DefaultQueue == "" {
		c.Queue.DefaultQueue = "default"
	}
	c.Observability.LogLevel = strings.ToLower(strings.TrimSpace(c.Observability.LogLevel))
	c.Observability.LogFormat = strings.ToLower(strings.TrimSpace(c.Observability.LogFormat))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Queue.Store {
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("redis.url is required when queue.store is redis")
		}
	case StorePostgres:
		if strings.TrimSpace(c.Postgres.URL) == "" {
			return fmt.Errorf("postgres.url is required when queue.store is postgres")
		}
		if !validTablePrefix.MatchString(c.Postgres.TablePrefix) {
			return fmt.Errorf("postgres.table_prefix %q is not a valid identifier", c.Postgres.TablePrefix)
		}
	default:
		return fmt.Errorf("queue.store must be one of: memory, redis, postgres (got %q)", c.Queue.Store)
	}

	if c.Queue.RequireDurable && c.Queue.Store == StoreMemory {
		return fmt.Errorf("queue.require_durable cannot be used with queue.store memory")
	}
	if c.Queue.StatusTTL <= 0 {
		return fmt.Errorf("queue.status_ttl must be positive")
	}
	if c.Queue.BreakerThreshold <= 0 {
		return fmt.Errorf("queue.breaker_threshold must be positive")
	}
	if c.Queue.BreakerCooldown <= 0 {
		return fmt.Errorf("queue.breaker_cooldown must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("observability.log_level must be one of: debug, info, warn, error")
	}
	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("observability.log_format must be one of: json, text")
	}

	if c.Observability.TracingEnabled {
		if strings.TrimSpace(c.Observability.TracingEndpoint) == "" {
			return fmt.Errorf("observability.tracing_endpoint is required when tracing is enabled")
		}
		if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
			return fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1")
		}
	}

	if c.Management.Enabled && strings.TrimSpace(c.Management.Address) == "" {
		return fmt.Errorf("management.address is required when management is enabled")
	}
	return nil
}
