package store

import (
	"context"
	"errors"

	"github.com/lib/pq"
)

// PostgreSQL error codes the engine reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pqCode(err) == codeUniqueViolation
}

// IsSerializationFailure reports whether err is a transaction conflict
// that is safe to retry: a serialization failure or a deadlock abort.
func IsSerializationFailure(err error) bool {
	code := pqCode(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// IsTimeout reports whether err indicates the storage operation exceeded
// its deadline, either client-side or via server-side query cancellation.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || pqCode(err) == codeQueryCanceled
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}
