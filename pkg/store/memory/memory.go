// Package memory implements a volatile, in-process queue store.
// Contents are lost when the process exits.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/jobqueue/pkg/store"
)

type delayedEntry struct {
	at      time.Time
	seq     uint64
	payload []byte
}

type statusEntry struct {
	value     []byte
	expiresAt time.Time
}

type queueState struct {
	ready   [][]byte
	delayed []delayedEntry // sorted by (at, seq)
}

// Store is an in-process implementation of store.Store.
type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	queues map[string]*queueState
	status map[string]statusEntry
	seq    uint64
	closed bool
}

// Option configures a memory Store.
type Option func(*Store)

// WithClock overrides the time source used for status expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty memory store.
func New(opts ...Option) *Store {
	s := &Store{
		now:    time.Now,
		queues: map[string]*queueState{},
		status: map[string]statusEntry{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// PushReady appends payload to the ready list tail.
func (s *Store) PushReady(_ context.Context, queue string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	q := s.queue(queue)
	q.ready = append(q.ready, cloneBytes(payload))
	return nil
}

// PopReady removes the ready list head.
func (s *Store) PopReady(_ context.Context, queue string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	q, ok := s.queues[strings.TrimSpace(queue)]
	if !ok || len(q.ready) == 0 {
		return nil, store.ErrEmpty
	}
	head := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]
	return head, nil
}

// AddDelayed inserts payload into the delayed set after every entry scheduled at or before at,
// which keeps ties in insertion order.
func (s *Store) AddDelayed(_ context.Context, queue string, payload []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	q := s.queue(queue)
	s.seq++
	entry := delayedEntry{at: at, seq: s.seq, payload: cloneBytes(payload)}

	idx := sort.Search(len(q.delayed), func(i int) bool {
		return q.delayed[i].at.After(at)
	})
	q.delayed = append(q.delayed, delayedEntry{})
	copy(q.delayed[idx+1:], q.delayed[idx:])
	q.delayed[idx] = entry
	return nil
}

// PromoteDue moves due delayed entries to the ready tail.
func (s *Store) PromoteDue(_ context.Context, queue string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	q, ok := s.queues[strings.TrimSpace(queue)]
	if !ok || len(q.delayed) == 0 {
		return 0, nil
	}
	due := sort.Search(len(q.delayed), func(i int) bool {
		return q.delayed[i].at.After(now)
	})
	for _, entry := range q.delayed[:due] {
		q.ready = append(q.ready, entry.payload)
	}
	q.delayed = append(q.delayed[:0], q.delayed[due:]...)
	return due, nil
}

// SetStatus stores value for ttl. A non-positive ttl never expires.
func (s *Store) SetStatus(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	entry := statusEntry{value: cloneBytes(value)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.status[key] = entry
	return nil
}

// GetStatus returns a live status value.
func (s *Store) GetStatus(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	entry, ok := s.status[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.status, key)
		return nil, store.ErrNotFound
	}
	return cloneBytes(entry.value), nil
}

// Len reports the ready and delayed sizes of a queue.
func (s *Store) Len(queue string) (ready, delayed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[strings.TrimSpace(queue)]
	if !ok {
		return 0, 0
	}
	return len(q.ready), len(q.delayed)
}

// Backlog reports the ready and delayed sizes summed over all queues.
func (s *Store) Backlog() (ready, delayed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queues {
		ready += len(q.ready)
		delayed += len(q.delayed)
	}
	return ready, delayed
}

// HealthCheck fails only once the store is closed.
func (s *Store) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close drops all contents.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queues = map[string]*queueState{}
	s.status = map[string]statusEntry{}
	return nil
}

func (s *Store) queue(name string) *queueState {
	name = strings.TrimSpace(name)
	q, ok := s.queues[name]
	if !ok {
		q = &queueState{}
		s.queues[name] = q
	}
	return q
}

func cloneBytes(input []byte) []byte {
	if input == nil {
		return nil
	}
	out := make([]byte, len(input))
	copy(out, input)
	return out
}
