// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx satisfies pgx.Tx for the calls the retry controller makes. Every
// other method panics so an unexpected call shows up as a test failure.
type fakeTx struct {
	pgx.Tx
	commits   int
	rollbacks int
	commitErr error
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	tx.commits++
	return tx.commitErr
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	tx.rollbacks++
	return nil
}

type fakeBeginner struct {
	begins    int
	beginErr  error
	commitErr error
	txs       []*fakeTx
}

func (b *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	b.begins++
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	tx := &fakeTx{commitErr: b.commitErr}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func serializationFailure() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

func TestRunTx_CommitsOnSuccess(t *testing.T) {
	beginner := &fakeBeginner{}
	db := NewDB(beginner, nil, slog.Default())

	calls := 0
	err := db.RunTx(context.Background(), func(ctx context.Context) error {
		calls++
		if _, ok := TxFromContext(ctx); !ok {
			t.Error("expected transaction in context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}
	if calls != 1 || beginner.begins != 1 {
		t.Fatalf("expected one attempt, got calls=%d begins=%d", calls, beginner.begins)
	}
	if beginner.txs[0].commits != 1 || beginner.txs[0].rollbacks != 0 {
		t.Fatalf("expected one commit and no rollback, got %+v", beginner.txs[0])
	}
}

func TestRunTx_RollsBackOnError(t *testing.T) {
	beginner := &fakeBeginner{}
	db := NewDB(beginner, nil, slog.Default())

	wantErr := errors.New("boom")
	err := db.RunTx(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if beginner.begins != 1 {
		t.Fatalf("non-retryable error must not retry, got %d begins", beginner.begins)
	}
	if beginner.txs[0].rollbacks != 1 || beginner.txs[0].commits != 0 {
		t.Fatalf("expected rollback without commit, got %+v", beginner.txs[0])
	}
}

func TestRunTx_RetriesSerializationFailure(t *testing.T) {
	beginner := &fakeBeginner{}
	db := NewDB(beginner, nil, slog.Default())

	attempts := 0
	err := db.RunTx(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return serializationFailure()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	// The two aborted attempts roll back, the final one commits.
	if n := len(beginner.txs); n != 3 {
		t.Fatalf("expected 3 transactions, got %d", n)
	}
	if beginner.txs[2].commits != 1 {
		t.Fatal("final attempt did not commit")
	}
}

func TestRunTx_ExhaustsRetryBudget(t *testing.T) {
	beginner := &fakeBeginner{}
	db := NewDB(beginner, &DBConfig{MaxRetries: 3}, slog.Default())

	attempts := 0
	err := db.RunTx(context.Background(), func(ctx context.Context) error {
		attempts++
		return serializationFailure()
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunTx_RetryableWrappedInBusinessError(t *testing.T) {
	// A transient storage abort surfacing through a mutator still retries:
	// BusinessMutationError unwraps to the PgError.
	beginner := &fakeBeginner{}
	db := NewDB(beginner, nil, slog.Default())

	attempts := 0
	err := db.RunTx(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return &BusinessMutationError{Name: "createOrder", MutationID: 1, Err: serializationFailure()}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected retry, got %d attempts", attempts)
	}
}

func TestRunTx_NestedCallSharesTransaction(t *testing.T) {
	beginner := &fakeBeginner{}
	db := NewDB(beginner, nil, slog.Default())

	err := db.RunTx(context.Background(), func(outer context.Context) error {
		outerTx, _ := TxFromContext(outer)
		return db.RunTx(outer, func(inner context.Context) error {
			innerTx, ok := TxFromContext(inner)
			if !ok || innerTx != outerTx {
				t.Error("nested call must observe the same transaction")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}
	if beginner.begins != 1 {
		t.Fatalf("nested RunTx must not open a second transaction, got %d begins", beginner.begins)
	}
	if beginner.txs[0].commits != 1 {
		t.Fatal("outer transaction did not commit")
	}
}

func TestAfterCommit_RunsAfterCommitOnly(t *testing.T) {
	beginner := &fakeBeginner{}
	db := NewDB(beginner, nil, slog.Default())

	fired := 0
	err := db.RunTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func(ctx context.Context) { fired++ })
		if fired != 0 {
			t.Error("hook fired before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected hook to fire once after commit, fired %d times", fired)
	}
}

func TestAfterCommit_DiscardedOnRollback(t *testing.T) {
	beginner := &fakeBeginner{}
	db := NewDB(beginner, nil, slog.Default())

	fired := 0
	_ = db.RunTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func(ctx context.Context) { fired++ })
		return errors.New("boom")
	})
	if fired != 0 {
		t.Fatalf("hook must not fire on rollback, fired %d times", fired)
	}
}

func TestAfterCommit_DiscardedOnAbortedAttempt(t *testing.T) {
	beginner := &fakeBeginner{}
	db := NewDB(beginner, nil, slog.Default())

	fired := 0
	attempts := 0
	err := db.RunTx(context.Background(), func(ctx context.Context) error {
		attempts++
		AfterCommit(ctx, func(ctx context.Context) { fired++ })
		if attempts == 1 {
			return serializationFailure()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}
	if fired != 1 {
		t.Fatalf("only the committed attempt's hook may fire, fired %d times", fired)
	}
}

func TestAfterCommit_ImmediateOutsideTransaction(t *testing.T) {
	fired := 0
	AfterCommit(context.Background(), func(ctx context.Context) { fired++ })
	if fired != 1 {
		t.Fatalf("expected immediate execution outside a transaction, fired %d times", fired)
	}
}

func TestRunTx_CommitFailureRetries(t *testing.T) {
	// Commit itself can abort under serializable isolation.
	beginner := &fakeBeginner{commitErr: serializationFailure()}
	db := NewDB(beginner, &DBConfig{MaxRetries: 2}, slog.Default())

	err := db.RunTx(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if beginner.begins != 2 {
		t.Fatalf("expected 2 attempts, got %d", beginner.begins)
	}
}

func TestIsRetryablePgError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock detected", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryablePgError(tc.err); got != tc.want {
				t.Errorf("IsRetryablePgError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
