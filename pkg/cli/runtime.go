package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/nimburion/jobqueue/pkg/config"
	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/jobs/builtin"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/tracing"
	"github.com/nimburion/jobqueue/pkg/resilience"
	"github.com/nimburion/jobqueue/pkg/store"
	storefactory "github.com/nimburion/jobqueue/pkg/store/factory"
	"github.com/nimburion/jobqueue/pkg/version"
)

func loadConfigAndLogger(cfgPath string, opts CommandOptions, flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
	cfg, err := config.NewViperLoader(cfgPath, opts.EnvPrefix).WithFlags(flags).Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Service.Name == "" {
		cfg.Service.Name = opts.Name
	}

	newLogger := opts.NewLogger
	if newLogger == nil {
		newLogger = func(cfg *config.Config) (logger.Logger, error) {
			return logger.NewZapLogger(logger.Config{
				Level:  logger.LogLevel(cfg.Observability.LogLevel),
				Format: logger.LogFormat(cfg.Observability.LogFormat),
			})
		}
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log = log.With("service", cfg.Service.Name)
	log.Debug("effective configuration", "config", fmt.Sprintf("%+v", *cfg))
	return cfg, log, nil
}

// runtime holds everything a command needs to talk to the queue.
type runtime struct {
	log      logger.Logger
	registry *jobs.Registry
	durable  store.Store
	manager  *jobs.Manager
	tracer   *tracing.TracerProvider
}

func newRegistry(log logger.Logger, opts CommandOptions) (*jobs.Registry, error) {
	registry := jobs.NewRegistry()
	if err := builtin.Register(registry, log); err != nil {
		return nil, fmt.Errorf("register builtin jobs: %w", err)
	}
	if opts.RegisterJobs != nil {
		if err := opts.RegisterJobs(registry, log); err != nil {
			return nil, fmt.Errorf("register jobs: %w", err)
		}
	}
	return registry, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, log logger.Logger, opts CommandOptions) (*runtime, error) {
	registry, err := newRegistry(log, opts)
	if err != nil {
		return nil, err
	}

	tracer, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	newStore := opts.StoreFactory
	if newStore == nil {
		newStore = storefactory.NewDurable
	}
	durable, err := newStore(cfg, log)
	if err != nil {
		if cfg.Queue.RequireDurable {
			_ = tracer.Shutdown(ctx)
			return nil, fmt.Errorf("connect %s queue store: %w", cfg.Queue.Store, err)
		}
		log.Warn("durable queue store unavailable, running in volatile mode", "store", cfg.Queue.Store, "error", err)
		durable = nil
	}

	manager, err := jobs.NewManager(durable, registry, log,
		jobs.WithStatusTTL(cfg.Queue.StatusTTL),
		jobs.WithDefaultQueue(cfg.Queue.DefaultQueue),
		jobs.WithBreaker(resilience.NewCircuitBreaker(cfg.Queue.BreakerThreshold, cfg.Queue.BreakerCooldown)),
	)
	if err != nil {
		var closeErr error
		if durable != nil {
			closeErr = durable.Close()
		}
		return nil, errors.Join(fmt.Errorf("create manager: %w", err), closeErr, tracer.Shutdown(ctx))
	}

	return &runtime{
		log:      log,
		registry: registry,
		durable:  durable,
		manager:  manager,
		tracer:   tracer,
	}, nil
}

func (r *runtime) close() {
	if err := r.manager.Close(); err != nil {
		r.log.Error("failed to close queue manager", "error", err)
	}
	if err := r.tracer.Shutdown(context.Background()); err != nil {
		r.log.Error("failed to shut down tracer provider", "error", err)
	}
}
