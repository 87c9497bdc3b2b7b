// Package storage is the single durable coordination primitive of the
// switch: a PostgreSQL schema holding transactions, the append-only
// gateway event log, the inbound and outbound callback queues and the
// audit log. All cross-worker coordination happens through row-level
// locks here; no in-memory state is shared.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianpay/gipswitch/log"
)

// Sentinel errors surfaced to intake and the API layer.
var (
	// ErrDuplicateReference means the institution already submitted a
	// transfer with this reference number.
	ErrDuplicateReference = errors.New("duplicate reference number")
	// ErrNotFound means no row matched.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict means the transaction moved under us; the
	// attempted transition is no longer valid.
	ErrStatusConflict = errors.New("transaction status changed concurrently")
)

// Config tunes the store. Durations gate the per-leg timeout sweeper
// and the defaults stamped onto new queue rows.
type Config struct {
	DatabaseURL string

	FTDCallbackTimeout time.Duration
	FTCCallbackTimeout time.Duration
	ReversalTimeout    time.Duration
	// TransactionTimeout is the overall budget: a leg still pending this
	// long after creation is escalated even before its own deadline.
	TransactionTimeout time.Duration

	ReversalMaxAttempts int

	WebhookMaxAttempts  int
	WebhookInitialDelay time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FTDCallbackTimeout:  30 * time.Minute,
		FTCCallbackTimeout:  30 * time.Minute,
		ReversalTimeout:     30 * time.Minute,
		TransactionTimeout:  time.Hour,
		ReversalMaxAttempts: 3,
		WebhookMaxAttempts:  5,
		WebhookInitialDelay: 5 * time.Second,
	}
}

// Store wraps the shared connection pool. It is safe for concurrent
// use by all workers.
type Store struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New connects to the database and bootstraps the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{pool: pool, cfg: cfg}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Infow("storage ready", "maxConns", poolCfg.MaxConns)
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// begin opens a read-committed transaction.
func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}
