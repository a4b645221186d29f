// Package cli builds the jobqueue command line: worker, producer and
// operational subcommands sharing one configuration pipeline.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/jobqueue/pkg/config"
	"github.com/nimburion/jobqueue/pkg/health"
	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/metrics"
	"github.com/nimburion/jobqueue/pkg/server"
	"github.com/nimburion/jobqueue/pkg/store"
	"github.com/nimburion/jobqueue/pkg/version"
)

// StoreFactory builds the durable store for cfg. A nil store means volatile mode.
type StoreFactory func(cfg *config.Config, log logger.Logger) (store.Store, error)

// CommandOptions customizes the root command.
type CommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: registers application jobs next to the builtin ones.
	RegisterJobs func(registry *jobs.Registry, log logger.Logger) error
	// Optional: overrides durable store construction.
	StoreFactory StoreFactory
	// Optional: overrides logger construction.
	NewLogger func(cfg *config.Config) (logger.Logger, error)
}

func (o *CommandOptions) normalize() {
	if strings.TrimSpace(o.Name) == "" {
		o.Name = "jobqueue"
	}
	if strings.TrimSpace(o.EnvPrefix) == "" {
		o.EnvPrefix = config.DefaultEnvPrefix
	}
}

// NewRootCommand creates the CLI with worker, push, status, jobs, healthcheck,
// config and version subcommands.
func NewRootCommand(opts CommandOptions) *cobra.Command {
	opts.normalize()

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	registerConfigFlags(flags)

	load := func(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
		return loadConfigAndLogger(cfgPath, opts, cmd.Flags())
	}

	rootCmd.AddCommand(
		newWorkerCommand(opts, load),
		newPushCommand(opts, load),
		newStatusCommand(opts, load),
		newJobsCommand(opts, load),
		newHealthcheckCommand(opts, load),
		newConfigCommand(load),
		newVersionCommand(opts),
	)
	return rootCmd
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type loadFunc func(cmd *cobra.Command) (*config.Config, logger.Logger, error)

func registerConfigFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: json, text")
	flags.String("store", "", "queue store: memory, redis, postgres")
	flags.String("default-queue", "", "queue used when none is named")
	flags.Bool("require-durable", false, "fail instead of running in volatile mode when the store is unreachable")
	flags.String("redis-url", "", "redis connection URL")
	flags.String("postgres-url", "", "postgres connection URL")
}

func newWorkerCommand(opts CommandOptions, load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker [queue]",
		Short: "Process jobs from a queue until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, log, opts)
			if err != nil {
				return err
			}
			defer rt.close()

			queue := cfg.Queue.DefaultQueue
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				queue = strings.TrimSpace(args[0])
			}

			worker, err := jobs.NewWorker(rt.manager, log, jobs.WorkerConfig{PollInterval: cfg.Worker.PollInterval})
			if err != nil {
				return fmt.Errorf("create worker: %w", err)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-runCtx.Done()
				log.Info("shutdown requested, finishing current job")
				worker.Stop()
			}()

			mgmtDone, err := startManagement(runCtx, cfg, log, rt.manager)
			if err != nil {
				return err
			}

			log.Info("jobqueue worker starting", append(version.Current(opts.Name).LogFields(),
				"queue", queue, "store", cfg.Queue.Store, "jobs", rt.registry.Names())...)
			workErr := worker.Work(runCtx, queue)
			stop()
			if mgmtErr := <-mgmtDone; mgmtErr != nil {
				log.Error("management server stopped with error", "error", mgmtErr)
			}
			return workErr
		},
	}
	cmd.Flags().Duration("poll-interval", 0, "idle sleep between polls")
	cmd.Flags().Bool("management-enabled", false, "serve /health, /ready and /metrics")
	cmd.Flags().String("management-address", "", "management listener address")
	return cmd
}

func startManagement(ctx context.Context, cfg *config.Config, log logger.Logger, manager *jobs.Manager) (<-chan error, error) {
	done := make(chan error, 1)
	if !cfg.Management.Enabled {
		done <- nil
		return done, nil
	}

	metricsRegistry, err := metrics.NewRegistry(jobs.Collectors()...)
	if err != nil {
		return nil, fmt.Errorf("create metrics registry: %w", err)
	}
	healthRegistry := health.NewRegistry()
	healthRegistry.Register(jobs.NewManagerHealthChecker("", manager))

	mgmt, err := server.NewManagementServer(cfg.Management, log, healthRegistry, metricsRegistry)
	if err != nil {
		return nil, fmt.Errorf("create management server: %w", err)
	}
	go func() { done <- mgmt.Start(ctx) }()
	return done, nil
}

func newPushCommand(opts CommandOptions, load loadFunc) *cobra.Command {
	var (
		queue string
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "push <type> [payload-json]",
		Short: "Enqueue a registered job",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, log, opts)
			if err != nil {
				return err
			}
			defer rt.close()
			if rt.durable == nil {
				return errors.New("push needs a durable queue store: jobs pushed to process memory are lost when this command exits")
			}

			payload := []byte("{}")
			if len(args) == 2 {
				payload = []byte(args[1])
			}
			job, err := rt.registry.Decode(args[0], payload)
			if err != nil {
				return fmt.Errorf("build job: %w", err)
			}
			id, err := rt.manager.LaterDurable(cmd.Context(), job, delay, queue)
			if err != nil {
				return fmt.Errorf("push %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "target queue (default from config)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the job becomes available")
	return cmd
}

func newStatusCommand(opts CommandOptions, load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the last recorded status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, log, opts)
			if err != nil {
				return err
			}
			defer rt.close()

			record, ok := rt.manager.JobStatus(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("no status recorded for job %s", args[0])
			}
			return writeJSON(cmd, record)
		},
	}
}

func newJobsCommand(opts CommandOptions, load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List registered job types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := load(cmd)
			if err != nil {
				return err
			}
			registry, err := newRegistry(log, opts)
			if err != nil {
				return err
			}
			for _, name := range registry.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newHealthcheckCommand(opts CommandOptions, load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the configured queue store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, log, opts)
			if err != nil {
				return err
			}
			defer rt.close()

			registry := health.NewRegistry()
			registry.Register(jobs.NewManagerHealthChecker("", rt.manager))
			result := registry.Check(cmd.Context())
			if err := writeJSON(cmd, result); err != nil {
				return err
			}
			if result.Status == health.StatusUnhealthy {
				return errors.New("queue store is unhealthy")
			}
			return nil
		},
	}
}

func newConfigCommand(load loadFunc) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load(cmd)
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg.Redis.URL = redactURL(cfg.Redis.URL)
				cfg.Postgres.URL = redactURL(cfg.Postgres.URL)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print connection passwords")
	return cmd
}

func newVersionCommand(opts CommandOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
