// Package builtin provides small jobs that ship with the jobqueue binary.
// They are useful for smoke testing a deployment and for exercising the
// retry path without writing any code.
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

const (
	// SleepJobName is the registry name of SleepJob.
	SleepJobName = "sleep"
	// LogJobName is the registry name of LogJob.
	LogJobName = "log"
)

// ErrSleepFailed is returned by a SleepJob configured to fail.
var ErrSleepFailed = errors.New("sleep job configured to fail")

// Register adds the builtin jobs to registry. Decoded jobs log through log.
func Register(registry *jobs.Registry, log logger.Logger) error {
	if registry == nil {
		return errors.New("registry is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if err := registry.RegisterFunc(SleepJobName, &SleepJob{}, decodeWith(func() *SleepJob {
		return &SleepJob{log: log}
	})); err != nil {
		return err
	}
	return registry.RegisterFunc(LogJobName, &LogJob{}, decodeWith(func() *LogJob {
		return &LogJob{log: log}
	}))
}

func decodeWith[T jobs.Job](newJob func() T) jobs.DecodeFunc {
	return func(payload []byte) (jobs.Job, error) {
		job := newJob()
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, job); err != nil {
				return nil, err
			}
		}
		return job, nil
	}
}

// SleepJob waits for DurationMS milliseconds. With Fail set every attempt
// fails, so the job walks through the whole retry schedule.
type SleepJob struct {
	DurationMS   int64 `json:"duration_ms"`
	Fail         bool  `json:"fail,omitempty"`
	Tries        int   `json:"tries,omitempty"`
	RetryDelayMS int64 `json:"retry_delay_ms,omitempty"`

	log logger.Logger
}

func (j *SleepJob) Handle(ctx context.Context) error {
	if j.DurationMS > 0 {
		timer := time.NewTimer(time.Duration(j.DurationMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if j.Fail {
		return ErrSleepFailed
	}
	j.logger(ctx).Info("sleep job finished", "duration_ms", j.DurationMS)
	return nil
}

func (j *SleepJob) Failed(ctx context.Context, err error) {
	j.logger(ctx).Warn("sleep job gave up", "tries", j.MaxTries(), "error", err)
}

func (j *SleepJob) MaxTries() int {
	if j.Tries <= 0 {
		return 1
	}
	return j.Tries
}

func (j *SleepJob) RetryDelay() time.Duration {
	return time.Duration(j.RetryDelayMS) * time.Millisecond
}

func (j *SleepJob) logger(ctx context.Context) logger.Logger {
	if j.log == nil {
		return logger.NewNop()
	}
	return j.log.WithContext(ctx)
}

// LogJob writes Message to the worker log at Level (info by default).
type LogJob struct {
	Message string         `json:"message"`
	Level   string         `json:"level,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`

	log logger.Logger
}

func (j *LogJob) Handle(ctx context.Context) error {
	if strings.TrimSpace(j.Message) == "" {
		return fmt.Errorf("%w: log job message is required", jobs.ErrValidation)
	}
	log := logger.NewNop()
	if j.log != nil {
		log = j.log.WithContext(ctx)
	}

	args := make([]any, 0, len(j.Fields)*2)
	for key, value := range j.Fields {
		args = append(args, key, value)
	}
	switch strings.ToLower(strings.TrimSpace(j.Level)) {
	case "", "info":
		log.Info(j.Message, args...)
	case "debug":
		log.Debug(j.Message, args...)
	case "warn":
		log.Warn(j.Message, args...)
	case "error":
		log.Error(j.Message, args...)
	default:
		return fmt.Errorf("%w: unknown log level %q", jobs.ErrValidation, j.Level)
	}
	return nil
}

func (j *LogJob) Failed(context.Context, error) {}

func (j *LogJob) MaxTries() int { return 1 }

func (j *LogJob) RetryDelay() time.Duration { return 0 }
