package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/store"
	"github.com/nimburion/jobqueue/pkg/store/memory"
)

type workerTestLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *workerTestLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *workerTestLogger) Debug(msg string, _ ...any) { l.record(msg) }
func (l *workerTestLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *workerTestLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *workerTestLogger) Error(msg string, _ ...any) { l.record(msg) }
func (l *workerTestLogger) With(...any) logger.Logger {
	return l
}
func (l *workerTestLogger) WithContext(context.Context) logger.Logger {
	return l
}

func (l *workerTestLogger) contains(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == msg {
			return true
		}
	}
	return false
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// jobTracker counts calls per job key across decode round trips.
type jobTracker struct {
	mu      sync.Mutex
	handled map[string]int
	failed  map[string][]error
	notify  chan string
}

var tracker = &jobTracker{
	handled: map[string]int{},
	failed:  map[string][]error{},
	notify:  make(chan string, 256),
}

func (tr *jobTracker) handle(key string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.handled[key]++
	return tr.handled[key]
}

func (tr *jobTracker) fail(key string, err error) {
	tr.mu.Lock()
	tr.failed[key] = append(tr.failed[key], err)
	tr.mu.Unlock()
	select {
	case tr.notify <- key:
	default:
	}
}

func (tr *jobTracker) handledCount(key string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.handled[key]
}

func (tr *jobTracker) failedCalls(key string) []error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]error(nil), tr.failed[key]...)
}

var errHandle = errors.New("handle failed")

type testJob struct {
	Key         string        `json:"key"`
	Tries       int           `json:"tries"`
	Delay       time.Duration `json:"delay"`
	SucceedOn   int           `json:"succeed_on"`
	PanicHandle bool          `json:"panic_handle"`
	PanicFailed bool          `json:"panic_failed"`
}

func (j *testJob) Handle(context.Context) error {
	n := tracker.handle(j.Key)
	if j.PanicHandle {
		panic("handle exploded")
	}
	if j.SucceedOn > 0 && n >= j.SucceedOn {
		return nil
	}
	return errHandle
}

func (j *testJob) Failed(_ context.Context, err error) {
	tracker.fail(j.Key, err)
	if j.PanicFailed {
		panic("failed hook exploded")
	}
}

func (j *testJob) MaxTries() int             { return j.Tries }
func (j *testJob) RetryDelay() time.Duration { return j.Delay }

type otherJob struct {
	Value string `json:"value"`
}

func (j *otherJob) Handle(context.Context) error  { return nil }
func (j *otherJob) Failed(context.Context, error) {}
func (j *otherJob) MaxTries() int                 { return 1 }
func (j *otherJob) RetryDelay() time.Duration     { return 0 }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	if err := Register[testJob](registry, "test_job"); err != nil {
		t.Fatalf("register: %v", err)
	}
	return registry
}

func newTestManager(t *testing.T, durable store.Store, clock *testClock, opts ...ManagerOption) *Manager {
	t.Helper()
	opts = append([]ManagerOption{WithClock(clock.Now)}, opts...)
	manager, err := NewManager(durable, newTestRegistry(t), &workerTestLogger{}, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

var errStoreDown = errors.New("store is down")

// flakyStore wraps a memory store and fails every call while down is set.
type flakyStore struct {
	*memory.Store
	down  atomic.Bool
	calls atomic.Int32
}

func newFlakyStore(clock *testClock) *flakyStore {
	return &flakyStore{Store: memory.New(memory.WithClock(clock.Now))}
}

func (s *flakyStore) check() error {
	s.calls.Add(1)
	if s.down.Load() {
		return errStoreDown
	}
	return nil
}

func (s *flakyStore) PushReady(ctx context.Context, queue string, payload []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.PushReady(ctx, queue, payload)
}

func (s *flakyStore) PopReady(ctx context.Context, queue string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.Store.PopReady(ctx, queue)
}

func (s *flakyStore) AddDelayed(ctx context.Context, queue string, payload []byte, at time.Time) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.AddDelayed(ctx, queue, payload, at)
}

func (s *flakyStore) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.Store.PromoteDue(ctx, queue, now)
}

func (s *flakyStore) SetStatus(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.SetStatus(ctx, key, value, ttl)
}

func (s *flakyStore) GetStatus(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.Store.GetStatus(ctx, key)
}

func (s *flakyStore) HealthCheck(ctx context.Context) error {
	if s.down.Load() {
		return errStoreDown
	}
	return s.Store.HealthCheck(ctx)
}
