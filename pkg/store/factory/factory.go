// Package factory builds the durable queue store selected by configuration.
package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nimburion/jobqueue/pkg/config"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/store"
	"github.com/nimburion/jobqueue/pkg/store/postgres"
	"github.com/nimburion/jobqueue/pkg/store/redis"
)

type constructors struct {
	redis    func(redis.Config, logger.Logger) (store.Store, error)
	postgres func(postgres.Config, logger.Logger) (store.Store, error)
}

var defaultConstructors = constructors{
	redis: func(cfg redis.Config, log logger.Logger) (store.Store, error) {
		s, err := redis.NewStore(cfg, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	postgres: func(cfg postgres.Config, log logger.Logger) (store.Store, error) {
		s, err := postgres.NewStore(cfg, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
}

// NewDurable returns the durable store named by cfg.Queue.Store.
// The memory backend has no durable store, so it returns (nil, nil) and the
// manager runs in volatile mode.
func NewDurable(cfg *config.Config, log logger.Logger) (store.Store, error) {
	return newDurable(cfg, log, defaultConstructors)
}

func newDurable(cfg *config.Config, log logger.Logger, ctors constructors) (store.Store, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Queue.Store))
	switch backend {
	case "", config.StoreMemory:
		return nil, nil
	case config.StoreRedis:
		return ctors.redis(redis.Config{
			URL:              cfg.Redis.URL,
			Prefix:           cfg.Redis.Prefix,
			OperationTimeout: cfg.Redis.OperationTimeout,
			PromoteBatch:     cfg.Redis.PromoteBatch,
		}, log)
	case config.StorePostgres:
		return ctors.postgres(postgres.Config{
			URL:              cfg.Postgres.URL,
			TablePrefix:      cfg.Postgres.TablePrefix,
			OperationTimeout: cfg.Postgres.OperationTimeout,
			PromoteBatch:     cfg.Postgres.PromoteBatch,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported queue store: %s", cfg.Queue.Store)
	}
}
