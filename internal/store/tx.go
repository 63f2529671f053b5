package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Transact runs fn inside a single transaction and retries the whole
// attempt on a serialization failure (Postgres error code 40001), which
// is the only class of error worth retrying at this layer — everything
// else (constraint violations, not-found) is the caller's business
// logic, not a transient storage fault. It makes at most 3 attempts.
// The Intake Service writes a new Notification, its first
// NotificationLog row and the subscription's quota update here; the
// worker pool's status changes, logs and outbox rows do not go through
// Transact and are separate writes.
func (db *DB) Transact(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	op := func() (struct{}, error) {
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("begin transaction: %w", err))
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, tx); err != nil {
			if isSerializationFailure(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}

		if err := tx.Commit(ctx); err != nil {
			if isSerializationFailure(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(fmt.Errorf("commit transaction: %w", err))
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}
