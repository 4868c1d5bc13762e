package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSettlementConflict means the transaction kept losing serialization
// conflicts. The operation did not happen and can be retried by the caller.
var ErrSettlementConflict = errors.New("settlement conflict, retry later")

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// RetryPolicy bounds re-runs of a serializable transaction.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff is multiplied by the attempt number before each re-run.
	Backoff time.Duration
}

// DefaultRetryPolicy is five attempts with a 20ms linear backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Backoff: 20 * time.Millisecond}

// isRetryable reports whether err is a conflict that a fresh run of the same
// transaction can resolve: serialization failure, deadlock, or a unique
// violation on the user id or referral code.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return true
	case pgUniqueViolation:
		return pgErr.ConstraintName == "users_pkey" || pgErr.ConstraintName == "users_referral_code_key"
	}
	return false
}

// runSerializable runs fn in a SERIALIZABLE transaction and commits it,
// re-running from scratch on retryable conflicts. onRetry, if set, is called
// before each re-run.
func runSerializable(ctx context.Context, db TxBeginner, policy RetryPolicy, fn func(tx pgx.Tx) error, onRetry func(attempt int, err error)) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			if policy.Backoff > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(policy.Backoff * time.Duration(attempt-1)):
				}
			}
		}

		tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		err = fn(tx)
		if err == nil {
			err = tx.Commit(ctx)
		}
		if err == nil {
			return nil
		}
		_ = tx.Rollback(ctx)
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrSettlementConflict, lastErr)
}
