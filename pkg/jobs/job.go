// Package jobs implements a persistent job queue: a registry of job types, a
// manager that enqueues, schedules and dequeues job envelopes on a queue
// store, and a polling worker with exponential-backoff retries.
package jobs

import (
	"context"
	"time"
)

// Job is a unit of deferred work.
//
// Implementations are plain structs whose exported fields make up the job
// payload. They are bound to a stable type name with Register so that the
// worker can rebuild them from the queue.
type Job interface {
	// Handle runs the job. A non-nil error marks the attempt as failed.
	Handle(ctx context.Context) error
	// Failed is called exactly once after the last attempt has failed.
	Failed(ctx context.Context, err error)
	// MaxTries is the total number of attempts, including the first one.
	MaxTries() int
	// RetryDelay is the base backoff between attempts.
	RetryDelay() time.Duration
}

func effectiveMaxTries(job Job) int {
	if tries := job.MaxTries(); tries > 0 {
		return tries
	}
	return 1
}

func effectiveRetryDelay(job Job) time.Duration {
	if delay := job.RetryDelay(); delay > 0 {
		return delay
	}
	return 0
}
