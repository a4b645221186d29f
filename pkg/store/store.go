// Package store defines the queue store contract consumed by the jobs manager.
//
// A store provides three primitives per named queue: a FIFO ready list, a
// time-ordered delayed set and a key-value map with TTL used for advisory job
// status. Implementations live in subpackages (memory, redis, postgres).
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by PopReady when the ready list holds nothing.
	ErrEmpty = errors.New("store: queue is empty")
	// ErrNotFound is returned by GetStatus when the key is missing or expired.
	ErrNotFound = errors.New("store: key not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Store is the queue storage contract. Every method must be safe for concurrent use
// and PopReady must deliver one payload to exactly one caller.
type Store interface {
	// PushReady appends payload to the tail of the queue's ready list.
	PushReady(ctx context.Context, queue string, payload []byte) error
	// PopReady removes and returns the head of the queue's ready list, or ErrEmpty.
	PopReady(ctx context.Context, queue string) ([]byte, error)
	// AddDelayed inserts payload into the queue's delayed set, scheduled at at.
	AddDelayed(ctx context.Context, queue string, payload []byte, at time.Time) error
	// PromoteDue moves every delayed entry with schedule <= now to the ready tail,
	// ordered by schedule and then insertion order. It returns the number moved.
	PromoteDue(ctx context.Context, queue string, now time.Time) (int, error)
	// SetStatus stores value under key for ttl.
	SetStatus(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// GetStatus returns the value stored under key, or ErrNotFound.
	GetStatus(ctx context.Context, key string) ([]byte, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
