package jobs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the queued representation of a job.
type Envelope struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Payload   []byte     `json:"payload"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
	ExecuteAt *time.Time `json:"execute_at,omitempty"`
}

// NewEnvelopeID returns a time-ordered UUIDv7 string.
func NewEnvelopeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// EncodeEnvelope serializes env for storage.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, jobsError(ErrValidation, "envelope is nil")
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses a stored envelope. Any structural problem is reported as ErrDecode.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, jobsError(ErrDecode, "malformed envelope: "+err.Error())
	}
	if strings.TrimSpace(env.ID) == "" {
		return nil, jobsError(ErrDecode, "envelope id is missing")
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, jobsError(ErrDecode, "envelope type is missing")
	}
	if len(env.Payload) == 0 {
		return nil, jobsError(ErrDecode, "envelope payload is missing")
	}
	if env.Attempts < 0 {
		return nil, jobsError(ErrDecode, "envelope attempts is negative")
	}
	return &env, nil
}
