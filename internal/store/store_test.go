package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, InitSchema(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorClassification(t *testing.T) {
	serialization := &pq.Error{Code: "40001"}
	deadlock := &pq.Error{Code: "40P01"}
	unique := &pq.Error{Code: "23505"}
	canceled := &pq.Error{Code: "57014"}

	assert.True(t, IsSerializationFailure(serialization))
	assert.True(t, IsSerializationFailure(deadlock))
	assert.False(t, IsSerializationFailure(unique))

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(serialization))

	assert.True(t, IsTimeout(canceled))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(errors.New("boom")))

	// Classification must see through error wrapping.
	wrapped := fmt.Errorf("insert bid: %w", serialization)
	assert.True(t, IsSerializationFailure(wrapped))
}

func TestInSerializableTxRetriesOnConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE things").
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE things").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempts := 0
	err = InSerializableTx(context.Background(), db, 3, func(tx *sql.Tx) error {
		attempts++
		_, err := tx.ExecContext(context.Background(), "UPDATE things SET x = 1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInSerializableTxDoesNotRetryBusinessErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sentinel := errors.New("not applicable")

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err = InSerializableTx(context.Background(), db, 3, func(tx *sql.Tx) error {
		attempts++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInSerializableTxExhaustsAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	attempts := 0
	err = InSerializableTx(context.Background(), db, 3, func(tx *sql.Tx) error {
		attempts++
		return &pq.Error{Code: "40001"}
	})
	assert.True(t, IsSerializationFailure(err))
	assert.Equal(t, 3, attempts)

	require.NoError(t, mock.ExpectationsWereMet())
}
