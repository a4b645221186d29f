// Package redis implements the queue store on Redis lists, sorted sets and
// TTL keys.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/store"
)

const (
	defaultPrefix           = "jobqueue"
	defaultOperationTimeout = 5 * time.Second
	defaultPromoteBatch     = 100
	defaultMaxConns         = 10
)

var (
	// Delayed members carry a zero-padded sequence so equal scores sort by insertion.
	addDelayedScript = redis.NewScript(`
local seq = redis.call("INCR", KEYS[2])
local member = string.format("%020d", seq) .. ":" .. ARGV[2]
redis.call("ZADD", KEYS[1], ARGV[1], member)
return seq
`)

	promoteDueScript = redis.NewScript(`
local delayed = KEYS[1]
local ready = KEYS[2]
local nowMs = tonumber(ARGV[1])
local batch = tonumber(ARGV[2])

local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", nowMs, "LIMIT", 0, batch)
for _, member in ipairs(due) do
  local sep = string.find(member, ":", 1, true)
  redis.call("RPUSH", ready, string.sub(member, sep + 1))
  redis.call("ZREM", delayed, member)
end
return #due
`)
)

// Config configures the Redis queue store.
type Config struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	PromoteBatch     int
	MaxConns         int
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.PromoteBatch <= 0 {
		c.PromoteBatch = defaultPromoteBatch
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
}

// Store implements store.Store on Redis.
type Store struct {
	client *redis.Client
	log    logger.Logger
	config Config

	mu     sync.RWMutex
	closed bool
}

var _ store.Store = (*Store)(nil)

// NewStore connects to Redis and verifies the connection with a ping.
func NewStore(cfg Config, log logger.Logger) (*Store, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url failed: %w", err)
	}
	opts.PoolSize = cfg.MaxConns
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	log.Info("redis queue store connected", "prefix", cfg.Prefix, "max_conns", cfg.MaxConns)
	return &Store{client: client, log: log, config: cfg}, nil
}

// PushReady appends payload to the ready list.
func (s *Store) PushReady(ctx context.Context, queue string, payload []byte) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	if err := s.client.RPush(opCtx, s.readyKey(queue), payload).Err(); err != nil {
		return fmt.Errorf("redis push ready failed: %w", err)
	}
	return nil
}

// PopReady pops the ready list head.
func (s *Store) PopReady(ctx context.Context, queue string) ([]byte, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	payload, err := s.client.LPop(opCtx, s.readyKey(queue)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis pop ready failed: %w", err)
	}
	return payload, nil
}

// AddDelayed schedules payload at the given time, rounded up to the next millisecond.
func (s *Store) AddDelayed(ctx context.Context, queue string, payload []byte, at time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	keys := []string{s.delayedKey(queue), s.seqKey(queue)}
	if err := addDelayedScript.Run(opCtx, s.client, keys, scheduleScore(at), payload).Err(); err != nil {
		return fmt.Errorf("redis add delayed failed: %w", err)
	}
	return nil
}

// PromoteDue moves due members to the ready list in batches until none remain.
func (s *Store) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	keys := []string{s.delayedKey(queue), s.readyKey(queue)}
	total := 0
	for {
		opCtx, cancel := s.operationContext(ctx)
		moved, err := promoteDueScript.Run(opCtx, s.client, keys, dueScore(now), s.config.PromoteBatch).Int()
		cancel()
		if err != nil {
			return total, fmt.Errorf("redis promote due failed: %w", err)
		}
		total += moved
		if moved < s.config.PromoteBatch {
			return total, nil
		}
	}
}

// scheduleScore rounds up so an entry never becomes due before at.
func scheduleScore(at time.Time) int64 {
	ms := at.UnixMilli()
	if at.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}

// dueScore rounds down so only entries scheduled at or before now qualify.
func dueScore(now time.Time) int64 {
	return now.UnixMilli()
}

// SetStatus writes value with a PX expiry. A non-positive ttl keeps the key forever.
func (s *Store) SetStatus(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	if err := s.client.Set(opCtx, s.statusKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set status failed: %w", err)
	}
	return nil
}

// GetStatus reads a status value.
func (s *Store) GetStatus(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	value, err := s.client.Get(opCtx, s.statusKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get status failed: %w", err)
	}
	return value, nil
}

// HealthCheck pings Redis.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	if err := s.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the client. It is safe to call more than once.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.log.Info("closing redis queue store")
	return s.client.Close()
}

func (s *Store) ensureOpen() error {
	if s == nil || s.client == nil {
		return errors.New("redis store is not initialized")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

func (s *Store) readyKey(queue string) string {
	return s.queuePrefix(queue) + ":ready"
}

func (s *Store) delayedKey(queue string) string {
	return s.queuePrefix(queue) + ":delayed"
}

func (s *Store) seqKey(queue string) string {
	return s.queuePrefix(queue) + ":seq"
}

func (s *Store) statusKey(id string) string {
	return s.prefix() + ":status:" + strings.TrimSpace(id)
}

func (s *Store) queuePrefix(queue string) string {
	return s.prefix() + ":queue:" + strings.TrimSpace(queue)
}

func (s *Store) prefix() string {
	return strings.TrimRight(strings.TrimSpace(s.config.Prefix), ":")
}
