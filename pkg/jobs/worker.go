package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/tracing"
)

// DefaultPollInterval is how long an idle worker sleeps between polls.
const DefaultPollInterval = time.Second

// Outcome is the result of processing one envelope.
type Outcome string

const (
	// OutcomeCompleted means Handle succeeded.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRetrying means the attempt failed and the envelope was rescheduled.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeFailed means the last attempt failed and Failed was called.
	OutcomeFailed Outcome = "failed"
	// OutcomeRejected means the envelope could not be decoded into a job.
	OutcomeRejected Outcome = "rejected"
)

// WorkerConfig configures a polling worker.
type WorkerConfig struct {
	PollInterval time.Duration
}

func (c *WorkerConfig) normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Worker pulls envelopes from one queue and runs them one at a time.
// Scale out by running more workers, each in its own process or goroutine.
type Worker struct {
	manager *Manager
	log     logger.Logger
	config  WorkerConfig

	running atomic.Bool
	stopped atomic.Bool
	wake    chan struct{}
}

// NewWorker creates a worker on top of manager.
func NewWorker(manager *Manager, log logger.Logger, cfg WorkerConfig) (*Worker, error) {
	if manager == nil {
		return nil, errors.New("manager is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &Worker{
		manager: manager,
		log:     log,
		config:  cfg,
		wake:    make(chan struct{}, 1),
	}, nil
}

// Work polls queue until Stop is called or ctx is cancelled, then returns nil.
// A job that has started always runs to completion: cancellation is only
// observed between jobs.
func (w *Worker) Work(ctx context.Context, queue string) error {
	if !w.running.CompareAndSwap(false, true) {
		return jobsError(ErrConflict, "worker is already running")
	}
	defer w.running.Store(false)

	queue = w.manager.queueName(queue)
	runCtx := context.WithoutCancel(ctx)
	w.log.Info("worker started", "queue", queue, "poll_interval", w.config.PollInterval, "volatile", w.manager.Volatile())

	for {
		if w.stopped.Load() || ctx.Err() != nil {
			w.log.Info("worker stopped", "queue", queue)
			return nil
		}

		env := w.manager.Pop(runCtx, queue)
		if env == nil {
			w.idle(ctx)
			continue
		}
		w.Process(runCtx, queue, env)
	}
}

// Stop asks Work to return after the current job. It is safe to call from
// any goroutine and more than once; a stopped worker does not restart.
func (w *Worker) Stop() {
	w.stopped.Store(true)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.wake:
	case <-timer.C:
	}
}

// Process runs one attempt of env and applies the retry policy.
func (w *Worker) Process(ctx context.Context, queue string, env *Envelope) Outcome {
	queue = w.manager.queueName(queue)
	ctx = logger.ContextWithJob(ctx, env.ID, queue)
	log := w.log.WithContext(ctx).With("job_type", env.Type, "attempts", env.Attempts)

	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationProcess,
		tracing.WithQueue(queue),
		tracing.WithJobID(env.ID),
		tracing.WithJobType(env.Type),
		tracing.WithAttempts(env.Attempts),
	)
	defer span.End()

	incrementJobInFlight(queue)
	defer decrementJobInFlight(queue)

	job, err := w.manager.registry.Decode(env.Type, env.Payload)
	if err != nil {
		log.Error("rejecting undecodable job", "error", err)
		w.manager.UpdateJobStatus(ctx, env.ID, StatusFailed, err)
		recordJobProcessed(queue, env.Type, OutcomeRejected)
		tracing.RecordError(span, err)
		span.SetAttributes(attribute.String("jobs.outcome", string(OutcomeRejected)))
		return OutcomeRejected
	}

	w.manager.UpdateJobStatus(ctx, env.ID, StatusProcessing, nil)
	started := time.Now()
	handleErr := w.handle(ctx, log, job)
	elapsed := time.Since(started)

	outcome := OutcomeCompleted
	if handleErr == nil {
		w.manager.UpdateJobStatus(ctx, env.ID, StatusCompleted, nil)
		log.Info("job completed", "duration", elapsed)
		tracing.RecordSuccess(span)
	} else {
		tracing.RecordError(span, handleErr)
		outcome = w.fail(ctx, log, queue, env, job, handleErr)
	}

	recordJobProcessed(queue, env.Type, outcome)
	span.SetAttributes(attribute.String("jobs.outcome", string(outcome)))
	return outcome
}

func (w *Worker) fail(ctx context.Context, log logger.Logger, queue string, env *Envelope, job Job, cause error) Outcome {
	env.Attempts++
	maxTries := effectiveMaxTries(job)

	if env.Attempts < maxTries {
		delay := Backoff(effectiveRetryDelay(job), env.Attempts)
		err := w.manager.LaterEnvelope(ctx, env, delay, queue)
		if err == nil {
			w.manager.UpdateJobStatus(ctx, env.ID, StatusRetrying, cause)
			recordJobRetry(queue, env.Type)
			log.Warn("job attempt failed, retry scheduled",
				"attempt", env.Attempts, "max_tries", maxTries, "retry_in", delay, "error", cause)
			return OutcomeRetrying
		}
		log.Error("job retry could not be scheduled, failing job", "error", err)
	}

	w.failed(ctx, log, job, cause)
	w.manager.UpdateJobStatus(ctx, env.ID, StatusFailed, cause)
	log.Error("job failed permanently", "attempt", env.Attempts, "max_tries", maxTries, "error", cause)
	return OutcomeFailed
}

func (w *Worker) handle(ctx context.Context, log logger.Logger, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("job panicked", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic while handling job: %v", rec)
		}
	}()
	return job.Handle(ctx)
}

func (w *Worker) failed(ctx context.Context, log logger.Logger, job Job, cause error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("job failure hook panicked", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	job.Failed(ctx, cause)
}
