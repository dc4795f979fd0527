package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ohio-rate-watch/internal/config"
	"ohio-rate-watch/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// RunStore records the run ledger: one row per pipeline execution.
type RunStore interface {
	BeginRun(ctx context.Context, run *model.RunRecord) error
	FinalizeRun(ctx context.Context, runID uuid.UUID, status model.RunStatus, reason string, totalOffers, pagesFailed int) error
	SuccessfulRunCounts(ctx context.Context, lastNDays int) ([]int, error)
	ListRecentRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
}

// SnapshotStore persists accepted batches and serves the prior-accepted
// lookup the change detector diffs against.
type SnapshotStore interface {
	CommitAcceptedBatch(ctx context.Context, run *model.RunRecord, batch *model.DailyBatch, events []model.RateEvent) error
	LastAcceptedSnapshot(ctx context.Context, key model.PageKey) (*model.PageSnapshot, error)
}

// EventStore reads the rate-event audit trail.
type EventStore interface {
	ListEventsBetween(ctx context.Context, from, to time.Time) ([]model.RateEvent, error)
	ListRecentEvents(ctx context.Context, limit int) ([]model.RateEvent, error)
}

// SubscriberStore is the subscriber collaborator surface the pipeline uses.
type SubscriberStore interface {
	ListConfirmedSubscribers(ctx context.Context, territory string) ([]model.Subscriber, error)
	MarkAlerted(ctx context.Context, subscriberID int64, rate decimal.Decimal, at time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers, keeping overlapping manual
// and scheduled runs off the same day's batch.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates all persistence concerns over one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}
