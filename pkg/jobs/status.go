package jobs

import "time"

// Status is the advisory lifecycle state recorded for a job.
type Status string

const (
	// StatusProcessing is written when a worker starts an attempt.
	StatusProcessing Status = "processing"
	// StatusCompleted is written when Handle returns nil.
	StatusCompleted Status = "completed"
	// StatusRetrying is written when a failed attempt has been rescheduled.
	StatusRetrying Status = "retrying"
	// StatusFailed is written after the last attempt fails or the envelope cannot be decoded.
	StatusFailed Status = "failed"
)

// StatusRecord is the value stored under a job id. Its absence never means
// the job does not exist: records expire and are not written in volatile mode.
type StatusRecord struct {
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}
