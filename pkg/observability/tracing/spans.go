package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer scope used by the queue.
const InstrumentationName = "github.com/nimburion/jobqueue"

// SpanOperation represents a traced queue operation.
type SpanOperation string

const (
	// SpanOperationEnqueue covers Push and Later.
	SpanOperationEnqueue SpanOperation = "jobs.enqueue"
	// SpanOperationDequeue covers promotion and pop.
	SpanOperationDequeue SpanOperation = "jobs.dequeue"
	// SpanOperationProcess covers one worker attempt.
	SpanOperationProcess SpanOperation = "jobs.process"
	// SpanOperationStore covers one call to a queue store.
	SpanOperationStore SpanOperation = "jobs.store"
)

// StartJobSpan creates a span for a queue operation. Enqueue spans are producers,
// dequeue and process spans are consumers.
func StartJobSpan(ctx context.Context, operation SpanOperation, opts ...JobSpanOption) (context.Context, trace.Span) {
	spanOpts := &jobSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("messaging.system", "jobqueue"),
			attribute.String("messaging.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := string(operation)
	if spanOpts.queue != "" {
		spanName = fmt.Sprintf("%s %s", operation, spanOpts.queue)
	}

	spanKind := trace.SpanKindInternal
	switch operation {
	case SpanOperationEnqueue:
		spanKind = trace.SpanKindProducer
	case SpanOperationDequeue, SpanOperationProcess:
		spanKind = trace.SpanKindConsumer
	case SpanOperationStore:
		spanKind = trace.SpanKindClient
	}

	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, spanName, trace.WithSpanKind(spanKind))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// JobSpanOption configures a job span.
type JobSpanOption func(*jobSpanOptions)

type jobSpanOptions struct {
	queue      string
	attributes []attribute.KeyValue
}

// WithQueue sets the destination queue.
func WithQueue(queue string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.queue = queue
		opts.attributes = append(opts.attributes, attribute.String("messaging.destination", queue))
	}
}

// WithJobID sets the envelope id.
func WithJobID(id string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.message_id", id))
	}
}

// WithJobType sets the registered job type name.
func WithJobType(name string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("jobs.type", name))
	}
}

// WithAttempts sets the number of failed attempts recorded on the envelope.
func WithAttempts(attempts int) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("jobs.attempts", attempts))
	}
}

// WithPayloadSize sets the encoded envelope size in bytes.
func WithPayloadSize(size int) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("messaging.payload_size_bytes", size))
	}
}

// WithStoreCall names the store method and the tier (durable or fallback) it ran on.
func WithStoreCall(method, tier string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes,
			attribute.String("jobs.store.method", method),
			attribute.String("jobs.store.tier", tier),
		)
	}
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
