// Package postgres implements the queue store on PostgreSQL tables.
//
// Three tables share a configurable prefix: <prefix>_ready holds the FIFO
// ready list ordered by a BIGSERIAL id, <prefix>_delayed holds scheduled
// entries ordered by (execute_at, id), and <prefix>_status holds advisory
// status values with an optional expiry.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/nimburion/jobqueue/pkg/observability/logger"
	"github.com/nimburion/jobqueue/pkg/store"
)

const (
	defaultTablePrefix      = "jobqueue"
	defaultOperationTimeout = 5 * time.Second
	defaultPromoteBatch     = 100
	defaultMaxOpenConns     = 10
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config configures the Postgres queue store.
type Config struct {
	URL              string
	TablePrefix      string
	OperationTimeout time.Duration
	PromoteBatch     int
	MaxOpenConns     int
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.TablePrefix) == "" {
		c.TablePrefix = defaultTablePrefix
	}
	c.TablePrefix = strings.TrimSpace(c.TablePrefix)
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.PromoteBatch <= 0 {
		c.PromoteBatch = defaultPromoteBatch
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	db     *sql.DB
	log    logger.Logger
	config Config

	mu     sync.RWMutex
	closed bool
}

var _ store.Store = (*Store)(nil)

// NewStore opens the database, verifies connectivity and creates the queue tables.
func NewStore(cfg Config, log logger.Logger) (*Store, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("postgres url is required")
	}
	cfg.normalize()
	if !validTablePrefix.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("invalid postgres table prefix %q", cfg.TablePrefix)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres failed: %w", err)
	}

	s := &Store{db: db, log: log, config: cfg}
	if err := s.ensureTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("postgres queue store connected", "table_prefix", cfg.TablePrefix)
	return s, nil
}

func newStoreWithDB(db *sql.DB, cfg Config, log logger.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	if !validTablePrefix.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("invalid postgres table prefix %q", cfg.TablePrefix)
	}
	return &Store{db: db, log: log, config: cfg}, nil
}

func (s *Store) schemaStatements() []string {
	p := s.config.TablePrefix
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_ready (
	id BIGSERIAL PRIMARY KEY,
	queue TEXT NOT NULL,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, p),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_ready_queue_idx ON %[1]s_ready(queue, id)`, p),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_delayed (
	id BIGSERIAL PRIMARY KEY,
	queue TEXT NOT NULL,
	execute_at TIMESTAMPTZ NOT NULL,
	payload BYTEA NOT NULL
)`, p),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_delayed_due_idx ON %[1]s_delayed(queue, execute_at, id)`, p),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_status (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	expires_at TIMESTAMPTZ
)`, p),
	}
}

func (s *Store) ensureTables(ctx context.Context) error {
	for _, statement := range s.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("create queue tables failed: %w", err)
		}
	}
	purged, err := s.PurgeExpiredStatus(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		s.log.Debug("purged expired job status rows", "count", purged)
	}
	return nil
}

// PushReady inserts payload at the ready tail.
func (s *Store) PushReady(ctx context.Context, queue string, payload []byte) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s_ready(queue, payload) VALUES ($1, $2)`, s.config.TablePrefix)
	if _, err := s.db.ExecContext(opCtx, query, strings.TrimSpace(queue), payload); err != nil {
		return fmt.Errorf("postgres push ready failed: %w", err)
	}
	return nil
}

// PopReady deletes and returns the oldest ready row. Rows locked by another
// transaction are skipped so concurrent callers never share a row.
func (s *Store) PopReady(ctx context.Context, queue string) ([]byte, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	query := fmt.Sprintf(`DELETE FROM %[1]s_ready WHERE id = (
	SELECT id FROM %[1]s_ready WHERE queue = $1 ORDER BY id FOR UPDATE SKIP LOCKED LIMIT 1
) RETURNING payload`, s.config.TablePrefix)

	var payload []byte
	err := s.db.QueryRowContext(opCtx, query, strings.TrimSpace(queue)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("postgres pop ready failed: %w", err)
	}
	return payload, nil
}

// AddDelayed inserts a scheduled row.
func (s *Store) AddDelayed(ctx context.Context, queue string, payload []byte, at time.Time) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s_delayed(queue, execute_at, payload) VALUES ($1, $2, $3)`, s.config.TablePrefix)
	if _, err := s.db.ExecContext(opCtx, query, strings.TrimSpace(queue), at.UTC(), payload); err != nil {
		return fmt.Errorf("postgres add delayed failed: %w", err)
	}
	return nil
}

// PromoteDue moves due rows to the ready table, one batch per statement, until drained.
func (s *Store) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`WITH due AS (
	DELETE FROM %[1]s_delayed WHERE id IN (
		SELECT id FROM %[1]s_delayed
		WHERE queue = $1 AND execute_at <= $2
		ORDER BY execute_at, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, queue, execute_at, payload
)
INSERT INTO %[1]s_ready(queue, payload)
SELECT queue, payload FROM due ORDER BY execute_at, id`, s.config.TablePrefix)

	total := 0
	for {
		opCtx, cancel := s.operationContext(ctx)
		result, err := s.db.ExecContext(opCtx, query, strings.TrimSpace(queue), now.UTC(), s.config.PromoteBatch)
		cancel()
		if err != nil {
			return total, fmt.Errorf("postgres promote due failed: %w", err)
		}
		moved, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("postgres promote due failed: %w", err)
		}
		total += int(moved)
		if int(moved) < s.config.PromoteBatch {
			return total, nil
		}
	}
}

// SetStatus upserts a status row. A non-positive ttl stores the row without expiry.
func (s *Store) SetStatus(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	// Expiry is computed from the database clock, the same clock reads compare against.
	var ttlMillis sql.NullInt64
	if ttl > 0 {
		ttlMillis = sql.NullInt64{Int64: ttl.Milliseconds(), Valid: true}
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s_status(key, value, expires_at) VALUES ($1, $2, NOW() + $3::bigint * interval '1 millisecond')
ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, s.config.TablePrefix)
	if _, err := s.db.ExecContext(opCtx, query, key, value, ttlMillis); err != nil {
		return fmt.Errorf("postgres set status failed: %w", err)
	}
	return nil
}

// GetStatus reads a live status row.
func (s *Store) GetStatus(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	query := fmt.Sprintf(`SELECT value FROM %s_status WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`, s.config.TablePrefix)

	var value []byte
	err := s.db.QueryRowContext(opCtx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get status failed: %w", err)
	}
	return value, nil
}

// PurgeExpiredStatus deletes expired status rows and returns how many were removed.
func (s *Store) PurgeExpiredStatus(ctx context.Context) (int64, error) {
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	query := fmt.Sprintf(`DELETE FROM %s_status WHERE expires_at IS NOT NULL AND expires_at <= NOW()`, s.config.TablePrefix)
	result, err := s.db.ExecContext(opCtx, query)
	if err != nil {
		return 0, fmt.Errorf("postgres purge status failed: %w", err)
	}
	return result.RowsAffected()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	if err := s.db.PingContext(opCtx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Close closes the connection pool. It is safe to call more than once.
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

	s.log.Info("closing postgres queue store")
	return s.db.Close()
}

func (s *Store) ensureOpen() error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
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
