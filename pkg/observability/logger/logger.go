// Package logger provides the structured logging contract used by the queue and its workers.
package logger

import (
	"context"
)

// Logger defines the interface for structured logging throughout jobqueue.
// All log methods accept a message string followed by key-value pairs for structured fields.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With creates a child logger that adds the given key-value pairs to every entry.
	With(args ...any) Logger

	// WithContext creates a child logger carrying the job fields stored in ctx.
	WithContext(ctx context.Context) Logger
}

type contextKey struct{ name string }

var (
	jobIDKey    = contextKey{"job_id"}
	jobQueueKey = contextKey{"job_queue"}
)

// ContextWithJob returns a context annotated with the job id and queue being processed.
// Loggers derived through WithContext include both fields.
func ContextWithJob(ctx context.Context, jobID, queue string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	return context.WithValue(ctx, jobQueueKey, queue)
}

// JobFromContext returns the job id and queue stored by ContextWithJob.
func JobFromContext(ctx context.Context) (jobID, queue string) {
	if ctx == nil {
		return "", ""
	}
	jobID, _ = ctx.Value(jobIDKey).(string)
	queue, _ = ctx.Value(jobQueueKey).(string)
	return jobID, queue
}

func contextFields(ctx context.Context) []any {
	jobID, queue := JobFromContext(ctx)
	fields := make([]any, 0, 4)
	if jobID != "" {
		fields = append(fields, "job_id", jobID)
	}
	if queue != "" {
		fields = append(fields, "queue", queue)
	}
	return fields
}

type nopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)                {}
func (nopLogger) Info(string, ...any)                 {}
func (nopLogger) Warn(string, ...any)                 {}
func (nopLogger) Error(string, ...any)                {}
func (n nopLogger) With(...any) Logger                { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
