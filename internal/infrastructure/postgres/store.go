// Package postgres provides PostgreSQL infrastructure for the claims feed:
// reference lookups, the staging sink, the adjudication procedure call, the
// batch ledger, and the transactional outbox.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/pkg/circuitbreaker"
)

// Store bundles the connection pool with the feed's persistence operations.
// Reads run on the pool; each batch file gets its own transaction via
// BeginBatch.
type Store struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	breaker *circuitbreaker.CircuitBreaker
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Connect opens a pool against the database URL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewStore(pool, logger), nil
}

// UseAdjudicationBreaker routes every Adjudicate call through cb. Call it
// before the first BeginBatch.
func (s *Store) UseAdjudicationBreaker(cb *circuitbreaker.CircuitBreaker) {
	s.breaker = cb
}

// Pool exposes the underlying pool for components that manage their own
// queries, such as the outbox relay.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }
