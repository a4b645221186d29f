package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/observability/tracing"
	"github.com/nimburion/jobqueue/pkg/resilience"
	"github.com/nimburion/jobqueue/pkg/store"
	"github.com/nimburion/jobqueue/pkg/store/memory"
)

const (
	// DefaultQueue is used when an operation names no queue.
	DefaultQueue = "default"
	// DefaultStatusTTL is how long status records are kept.
	DefaultStatusTTL = 24 * time.Hour

	tierDurable  = "durable"
	tierFallback = "fallback"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source used for scheduling and status timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithStatusTTL sets the status record lifetime.
func WithStatusTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.statusTTL = ttl
		}
	}
}

// WithFallback replaces the in-process store used when the durable store fails.
func WithFallback(fallback store.Store) ManagerOption {
	return func(m *Manager) {
		if fallback != nil {
			m.fallback = fallback
		}
	}
}

// WithDefaultQueue sets the queue used when an operation names none.
func WithDefaultQueue(queue string) ManagerOption {
	return func(m *Manager) {
		if trimmed := strings.TrimSpace(queue); trimmed != "" {
			m.defaultQueue = trimmed
		}
	}
}

// WithBreaker replaces the circuit breaker guarding the durable store.
func WithBreaker(breaker *resilience.CircuitBreaker) ManagerOption {
	return func(m *Manager) {
		if breaker != nil {
			m.breaker = breaker
		}
	}
}

// Manager enqueues, schedules and dequeues job envelopes.
//
// Durable store failures never reach callers of Push and Later: the
// operation is logged and served by an in-process fallback store instead.
// Pop drains the fallback before the durable store. Status
// records are only kept by the durable store.
type Manager struct {
	durable      store.Store
	fallback     store.Store
	breaker      *resilience.CircuitBreaker
	registry     *Registry
	log          logger.Logger
	now          func() time.Time
	statusTTL    time.Duration
	defaultQueue string

	closed atomic.Bool
}

// NewManager creates a manager. durable may be nil, in which case the manager
// runs in volatile mode on the in-process store only.
func NewManager(durable store.Store, registry *Registry, log logger.Logger, opts ...ManagerOption) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	m := &Manager{
		durable:      durable,
		registry:     registry,
		log:          log,
		now:          time.Now,
		statusTTL:    DefaultStatusTTL,
		defaultQueue: DefaultQueue,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fallback == nil {
		m.fallback = memory.New(memory.WithClock(m.now))
	}
	if m.breaker == nil {
		m.breaker = resilience.NewCircuitBreaker(resilience.DefaultFailureThreshold, resilience.DefaultCooldown)
	}
	if durable == nil {
		log.Warn("no durable queue store configured, jobs are kept in process memory only")
	}
	return m, nil
}

// Registry returns the job registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Push enqueues job for immediate processing and returns the envelope id.
// Errors are limited to unregistered or unencodable jobs and a closed manager.
func (m *Manager) Push(ctx context.Context, job Job, queue string) (string, error) {
	return m.Later(ctx, job, 0, queue)
}

// Later enqueues job to become available after delay. A non-positive delay
// behaves like Push.
func (m *Manager) Later(ctx context.Context, job Job, delay time.Duration, queue string) (string, error) {
	return m.later(ctx, job, delay, queue, false)
}

// LaterDurable is like Later but fails with ErrNotDurable instead of parking
// the job in process memory when the durable store cannot take it. Producers
// that exit right after enqueueing must use it.
func (m *Manager) LaterDurable(ctx context.Context, job Job, delay time.Duration, queue string) (string, error) {
	return m.later(ctx, job, delay, queue, true)
}

func (m *Manager) later(ctx context.Context, job Job, delay time.Duration, queue string, durableOnly bool) (string, error) {
	name, payload, err := m.registry.Encode(job)
	if err != nil {
		return "", err
	}
	env := &Envelope{
		ID:        NewEnvelopeID(),
		Type:      name,
		Payload:   payload,
		Attempts:  0,
		CreatedAt: m.now().UTC(),
	}
	if err := m.schedule(ctx, env, delay, queue, durableOnly); err != nil {
		return "", err
	}
	return env.ID, nil
}

// LaterEnvelope schedules an existing envelope, keeping its id and attempts.
// It is how the worker requeues a failed attempt.
func (m *Manager) LaterEnvelope(ctx context.Context, env *Envelope, delay time.Duration, queue string) error {
	return m.schedule(ctx, env, delay, queue, false)
}

func (m *Manager) schedule(ctx context.Context, env *Envelope, delay time.Duration, queue string, durableOnly bool) error {
	if env == nil {
		return jobsError(ErrValidation, "envelope is nil")
	}
	if m.closed.Load() {
		return ErrClosed
	}
	queue = m.queueName(queue)

	delayed := delay > 0
	var at time.Time
	if delayed {
		at = m.now().Add(delay)
		executeAt := at.UTC()
		env.ExecuteAt = &executeAt
	} else {
		env.ExecuteAt = nil
	}

	data, err := EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationEnqueue,
		tracing.WithQueue(queue),
		tracing.WithJobID(env.ID),
		tracing.WithJobType(env.Type),
		tracing.WithAttempts(env.Attempts),
		tracing.WithPayloadSize(len(data)),
	)
	defer span.End()

	method := "PushReady"
	op := func(ctx context.Context, s store.Store) error {
		return s.PushReady(ctx, queue, data)
	}
	if delayed {
		method = "AddDelayed"
		op = func(ctx context.Context, s store.Store) error {
			return s.AddDelayed(ctx, queue, data, at)
		}
	}

	if durableOnly {
		err = m.onlyDurable(ctx, method, op)
	} else {
		err = m.withFallback(ctx, method, queue, op)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("enqueue job: %w", err)
	}
	recordJobEnqueued(queue, env.Type, delayed)
	tracing.RecordSuccess(span)
	m.log.Debug("job enqueued", "job_id", env.ID, "job_type", env.Type, "queue", queue, "delay", delay, "attempts", env.Attempts)
	return nil
}

// Pop promotes due delayed jobs and returns the head of the ready list, or
// nil when nothing is ready. Malformed entries are logged and skipped.
func (m *Manager) Pop(ctx context.Context, queue string) *Envelope {
	if m.closed.Load() {
		return nil
	}
	queue = m.queueName(queue)
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationDequeue, tracing.WithQueue(queue))
	defer span.End()

	now := m.now()
	for {
		data, ok := m.popRaw(ctx, queue, now)
		if !ok {
			return nil
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			recordJobMalformed(queue)
			m.log.Error("discarding malformed queue entry", "queue", queue, "error", err, "size", len(data))
			continue
		}
		env.ExecuteAt = nil
		span.SetAttributes(
			attribute.String("messaging.message_id", env.ID),
			attribute.String("jobs.type", env.Type),
			attribute.Int("jobs.attempts", env.Attempts),
		)
		tracing.RecordSuccess(span)
		return env
	}
}

func (m *Manager) popRaw(ctx context.Context, queue string, now time.Time) ([]byte, bool) {
	pop := func(ctx context.Context, s store.Store) ([]byte, error) {
		if _, err := s.PromoteDue(ctx, queue, now); err != nil {
			return nil, err
		}
		data, err := s.PopReady(ctx, queue)
		if errors.Is(err, store.ErrEmpty) {
			return nil, nil
		}
		return data, err
	}

	// Entries parked in the fallback during an outage predate everything the
	// durable store received since, so they are served first.
	data, err := m.callFallback(ctx, "Pop", func(ctx context.Context, s store.Store) ([]byte, error) {
		return pop(ctx, s)
	})
	if err != nil {
		m.log.Error("in-process queue store pop failed", "queue", queue, "error", err)
	} else if data != nil {
		return data, true
	}
	if m.durable == nil {
		return nil, false
	}

	err = m.callDurable(ctx, "Pop", func(ctx context.Context, s store.Store) error {
		var popErr error
		data, popErr = pop(ctx, s)
		return popErr
	})
	if err != nil {
		m.noteFallback("Pop", queue, err)
		return nil, false
	}
	return data, data != nil
}

// UpdateJobStatus records the advisory status of a job. It is a no-op in
// volatile mode and when the durable write fails.
func (m *Manager) UpdateJobStatus(ctx context.Context, id string, status Status, cause error) {
	if m.durable == nil || strings.TrimSpace(id) == "" {
		return
	}
	record := StatusRecord{Status: status, UpdatedAt: m.now().UTC()}
	if cause != nil {
		record.Error = cause.Error()
	}
	data, err := json.Marshal(record)
	if err != nil {
		m.log.Error("encode job status failed", "job_id", id, "error", err)
		return
	}
	err = m.callDurable(ctx, "SetStatus", func(ctx context.Context, s store.Store) error {
		return s.SetStatus(ctx, id, data, m.statusTTL)
	})
	if err != nil {
		m.log.Warn("job status dropped", "job_id", id, "status", status, "error", err)
	}
}

// JobStatus returns the last recorded status of a job. false means no record
// is available, not that the job does not exist.
func (m *Manager) JobStatus(ctx context.Context, id string) (*StatusRecord, bool) {
	if m.durable == nil || strings.TrimSpace(id) == "" {
		return nil, false
	}
	var data []byte
	err := m.callDurable(ctx, "GetStatus", func(ctx context.Context, s store.Store) error {
		value, getErr := s.GetStatus(ctx, id)
		if errors.Is(getErr, store.ErrNotFound) {
			return nil
		}
		data = value
		return getErr
	})
	if err != nil {
		m.log.Warn("job status lookup failed", "job_id", id, "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var record StatusRecord
	if err := json.Unmarshal(data, &record); err != nil {
		m.log.Warn("job status record is malformed", "job_id", id, "error", err)
		return nil, false
	}
	return &record, true
}

// Volatile reports whether jobs are currently kept only in process memory:
// either no durable store is configured or its circuit breaker is open.
func (m *Manager) Volatile() bool {
	return m.durable == nil || m.breaker.State() == resilience.StateOpen
}

// HealthCheck checks the durable store, or the fallback in volatile mode.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.durable == nil {
		return m.fallback.HealthCheck(ctx)
	}
	return m.durable.HealthCheck(ctx)
}

// Close closes both stores. Entries still in the fallback are lost.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if ready, delayed := m.fallbackBacklog(); ready+delayed > 0 {
		m.log.Warn("closing with jobs left in process memory", "ready", ready, "delayed", delayed)
	}
	var errs []error
	if m.durable != nil {
		errs = append(errs, m.durable.Close())
	}
	errs = append(errs, m.fallback.Close())
	return errors.Join(errs...)
}

func (m *Manager) withFallback(ctx context.Context, method, queue string, op func(context.Context, store.Store) error) error {
	if m.durable != nil {
		err := m.callDurable(ctx, method, op)
		if err == nil {
			return nil
		}
		m.noteFallback(method, queue, err)
	}
	_, err := m.callFallback(ctx, method, func(ctx context.Context, s store.Store) ([]byte, error) {
		return nil, op(ctx, s)
	})
	return err
}

func (m *Manager) onlyDurable(ctx context.Context, method string, op func(context.Context, store.Store) error) error {
	if m.durable == nil {
		return jobsError(ErrNotDurable, "no durable store configured")
	}
	if err := m.callDurable(ctx, method, op); err != nil {
		return fmt.Errorf("%w: %w", ErrNotDurable, err)
	}
	return nil
}

func (m *Manager) callDurable(ctx context.Context, method string, op func(context.Context, store.Store) error) error {
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationStore, tracing.WithStoreCall(method, tierDurable))
	defer span.End()
	err := m.breaker.Execute(func() error {
		return op(ctx, m.durable)
	})
	recordSpanResult(span, err)
	return err
}

func (m *Manager) callFallback(ctx context.Context, method string, op func(context.Context, store.Store) ([]byte, error)) ([]byte, error) {
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationStore, tracing.WithStoreCall(method, tierFallback))
	defer span.End()
	data, err := op(ctx, m.fallback)
	recordSpanResult(span, err)
	return data, err
}

func (m *Manager) noteFallback(method, queue string, err error) {
	recordStoreFallback(method)
	if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
		m.log.Debug("durable queue store bypassed while circuit is open", "operation", method, "queue", queue)
		return
	}
	m.log.Warn("durable queue store failed, using in-process fallback", "operation", method, "queue", queue, "error", err)
}

func (m *Manager) fallbackBacklog() (ready, delayed int) {
	if mem, ok := m.fallback.(*memory.Store); ok {
		return mem.Backlog()
	}
	return 0, 0
}

func (m *Manager) queueName(queue string) string {
	if trimmed := strings.TrimSpace(queue); trimmed != "" {
		return trimmed
	}
	return m.defaultQueue
}

func recordSpanResult(span trace.Span, err error) {
	if err != nil {
		tracing.RecordError(span, err)
		return
	}
	tracing.RecordSuccess(span)
}
