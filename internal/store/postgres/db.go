package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/001_initial_schema.up.sql
var InitialSchema string

// DefaultConnStringEnv is the environment variable holding the database URL
const DefaultConnStringEnv = "DATABASE_URL"

var (
	// ErrConfiguration is returned when the pool cannot be configured,
	// most commonly because the connection string is missing.
	ErrConfiguration = errors.New("database configuration error")
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("connection pool is closed")
)

// Config holds pool configuration.
// The connection string itself is not part of it: it is looked up on first use.
type Config struct {
	ConnStringEnv     string
	LookupEnv         func(key string) (string, bool)
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// Conn is a connection borrowed from the pool
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Release returns the connection to the pool.
	Release()
	// Destroy closes the physical connection instead of returning it.
	Destroy(ctx context.Context)
}

// Acquirer hands out pooled connections
type Acquirer interface {
	Acquire(ctx context.Context) (Conn, error)
}

// Pool is a lazily initialized PostgreSQL connection pool.
// It is owned by the process entry point and shared by reference.
type Pool struct {
	cfg Config

	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool
}

// NewPool creates a pool; no connection is made until first use
func NewPool(cfg Config) *Pool {
	if cfg.ConnStringEnv == "" {
		cfg.ConnStringEnv = DefaultConnStringEnv
	}
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = os.LookupEnv
	}
	return &Pool{cfg: cfg}
}

// get returns the underlying pgx pool, creating it on first call
func (p *Pool) get(ctx context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.pool != nil {
		return p.pool, nil
	}

	poolConfig, err := p.parseConfig()
	if err != nil {
		return nil, err
	}

	// The pool outlives the request that triggered its creation.
	pool, err := pgxpool.NewWithConfig(context.WithoutCancel(ctx), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	p.pool = pool
	return pool, nil
}

func (p *Pool) parseConfig() (*pgxpool.Config, error) {
	connStr, ok := p.cfg.LookupEnv(p.cfg.ConnStringEnv)
	connStr = strings.TrimSpace(connStr)
	if !ok || connStr == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrConfiguration, p.cfg.ConnStringEnv)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrConfiguration, p.cfg.ConnStringEnv, err)
	}

	if p.cfg.MaxConns > 0 {
		poolConfig.MaxConns = p.cfg.MaxConns
	}
	if p.cfg.MinConns > 0 {
		poolConfig.MinConns = p.cfg.MinConns
	}
	if p.cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = p.cfg.MaxConnLifetime
	}
	if p.cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = p.cfg.MaxConnIdleTime
	}
	if p.cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = p.cfg.HealthCheckPeriod
	}
	if p.cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = p.cfg.ConnectTimeout
	}
	if poolConfig.MinConns > poolConfig.MaxConns {
		return nil, fmt.Errorf("%w: min conns %d exceeds max conns %d", ErrConfiguration, poolConfig.MinConns, poolConfig.MaxConns)
	}

	return poolConfig, nil
}

// Acquire borrows a connection, blocking until one is free or ctx is done
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	pool, err := p.get(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &pooledConn{Conn: conn}, nil
}

// Close drains and closes all pooled connections. It is safe to call more
// than once and on a pool that was never used.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pool := p.pool
	p.pool = nil
	p.mu.Unlock()

	// pgxpool.Close waits for borrowed connections to come back
	if pool != nil {
		pool.Close()
	}
}

// Ping initializes the pool if needed and verifies connectivity
func (p *Pool) Ping(ctx context.Context) error {
	pool, err := p.get(ctx)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Migrate runs a SQL script outside of any tenant scope
func (p *Pool) Migrate(ctx context.Context, script string) error {
	pool, err := p.get(ctx)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, script); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}

// PoolStats is a snapshot of pool usage
type PoolStats struct {
	Initialized          bool
	AcquiredConns        int32
	IdleConns            int32
	TotalConns           int32
	MaxConns             int32
	AcquireCount         int64
	CanceledAcquireCount int64
	EmptyAcquireCount    int64
	AcquireDuration      time.Duration
}

// Stat reports pool usage. Before first use only MaxConns is known; when it
// is unset that is the pgxpool default. A pool_max_conns in the connection
// string is not seen until the pool is built.
func (p *Pool) Stat() PoolStats {
	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()

	if pool == nil {
		return PoolStats{MaxConns: p.defaultMaxConns()}
	}

	s := pool.Stat()
	return PoolStats{
		Initialized:          true,
		AcquiredConns:        s.AcquiredConns(),
		IdleConns:            s.IdleConns(),
		TotalConns:           s.TotalConns(),
		MaxConns:             s.MaxConns(),
		AcquireCount:         s.AcquireCount(),
		CanceledAcquireCount: s.CanceledAcquireCount(),
		EmptyAcquireCount:    s.EmptyAcquireCount(),
		AcquireDuration:      s.AcquireDuration(),
	}
}

func (p *Pool) defaultMaxConns() int32 {
	if p.cfg.MaxConns > 0 {
		return p.cfg.MaxConns
	}
	return int32(max(4, runtime.NumCPU()))
}

// pooledConn adapts *pgxpool.Conn to Conn
type pooledConn struct {
	*pgxpool.Conn
}

func (c *pooledConn) Destroy(ctx context.Context) {
	conn := c.Hijack()
	_ = conn.Close(ctx)
}
