package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies invalid caller input such as a nil job or a blank type name.
	ErrValidation = errors.New("jobs validation error")
	// ErrUnregisteredJob classifies jobs whose type has no registry binding.
	ErrUnregisteredJob = errors.New("jobs unregistered job type")
	// ErrDecode classifies envelopes and payloads that cannot be turned back into a job.
	// A decode failure is never retried.
	ErrDecode = errors.New("jobs decode error")
	// ErrConflict classifies duplicate registrations and concurrent worker loops.
	ErrConflict = errors.New("jobs conflict")
	// ErrClosed classifies operations on a closed manager.
	ErrClosed = errors.New("jobs closed")
	// ErrNotDurable classifies enqueues that required the durable store but could not reach it.
	ErrNotDurable = errors.New("jobs durable store unavailable")
)

func jobsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
