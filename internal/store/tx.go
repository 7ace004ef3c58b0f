package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InSerializableTx runs fn inside a serializable transaction, retrying up
// to attempts times when the database aborts the transaction with a
// serialization conflict. Any other error from fn rolls back and returns
// immediately. The last serialization error is returned if all attempts
// are exhausted; callers decide how to surface it.
func InSerializableTx(ctx context.Context, db *sql.DB, attempts int, fn func(tx *sql.Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = runSerializable(ctx, db, fn)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
	}
	return err
}

func runSerializable(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		// Rollback error is secondary; the original failure drives retry
		// and error-mapping decisions.
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
