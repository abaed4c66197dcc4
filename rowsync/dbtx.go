// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxRunner executes a unit of work inside one transaction boundary. Nested
// calls compose re-entrantly: only the outermost call opens a transaction,
// inner calls run their work directly within it.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxBeginner starts database transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DBConfig tunes the retry controller. The retry predicate is pluggable so
// the controller stays storage-agnostic; the default inspects Postgres
// SQLSTATEs.
type DBConfig struct {
	MaxRetries  int
	IsRetryable func(error) bool
}

// DB is the Postgres-backed transaction retry controller. The underlying
// store surfaces contention as transaction aborts rather than blocking, so
// aborted attempts are discarded and re-executed immediately up to the retry
// budget. Pull and push are idempotent at the mutation-id and CVR-diff level,
// which makes blind retry safe.
type DB struct {
	beginner    TxBeginner
	logger      *slog.Logger
	maxRetries  int
	isRetryable func(error) bool
}

// NewDB creates a retry controller around a transaction beginner.
func NewDB(beginner TxBeginner, config *DBConfig, logger *slog.Logger) *DB {
	if config == nil {
		config = &DBConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	db := &DB{
		beginner:    beginner,
		logger:      logger,
		maxRetries:  config.MaxRetries,
		isRetryable: config.IsRetryable,
	}
	if db.maxRetries <= 0 {
		db.maxRetries = DBTransactionMaxRetries
	}
	if db.isRetryable == nil {
		db.isRetryable = IsRetryablePgError
	}
	return db
}

// IsRetryablePgError reports whether err is a serialization failure or a
// detected deadlock, the transaction-abort classes that are safe to retry.
func IsRetryablePgError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// txScope is the per-transaction request-scoped state carried in the context:
// the active tx handle plus any post-commit hooks registered during the work.
type txScope struct {
	tx    pgx.Tx
	hooks []func(ctx context.Context)
}

type txScopeKey struct{}

func scopeFromContext(ctx context.Context) (*txScope, bool) {
	scope, ok := ctx.Value(txScopeKey{}).(*txScope)
	return scope, ok
}

// TxFromContext returns the active transaction, if any. Storage code and
// table providers use it to run their queries on the same snapshot as the
// enclosing pull or push.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	scope, ok := scopeFromContext(ctx)
	if !ok || scope.tx == nil {
		return nil, false
	}
	return scope.tx, true
}

// AfterCommit registers fn to run strictly after the enclosing transaction
// commits, and never if it rolls back. Outside a transaction fn runs
// immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		fn(ctx)
		return
	}
	scope.hooks = append(scope.hooks, fn)
}

// RunTx implements TxRunner. A retryable failure discards the attempt and its
// registered hooks, then re-executes fn on a fresh transaction. Any other
// error propagates immediately; exhausting the budget yields
// ErrMaxRetriesExceeded wrapping the last failure.
func (db *DB) RunTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := scopeFromContext(ctx); ok {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 1; attempt <= db.maxRetries; attempt++ {
		scope := &txScope{}

		err := db.runAttempt(ctx, scope, fn)
		if err == nil {
			for _, hook := range scope.hooks {
				hook(ctx)
			}
			return nil
		}
		if !db.isRetryable(err) {
			return err
		}

		lastErr = err
		db.logger.Debug("Transaction aborted by contention, retrying",
			"attempt", attempt, "max_retries", db.maxRetries, "error", err)
	}

	return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func (db *DB) runAttempt(ctx context.Context, scope *txScope, fn func(ctx context.Context) error) error {
	tx, err := db.beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	scope.tx = tx

	txCtx := context.WithValue(ctx, txScopeKey{}, scope)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
