package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConflictingChange is returned when two pending changes for the same row cannot be merged.
	ErrConflictingChange = errors.New("weave: conflicting changes")

	// ErrTransaction is returned when the backend rejects or fails a compiled operation.
	ErrTransaction = errors.New("weave: transaction failed")

	// ErrUniqueConstraint is returned when a unique constraint row already exists.
	ErrUniqueConstraint = errors.New("weave: unique constraint violated")

	// ErrUnknown is returned when there is nothing to compile.
	ErrUnknown = errors.New("weave: no changes to apply")

	// ErrUnauthorized is returned when an owner-restricted operation has no user id.
	ErrUnauthorized = errors.New("weave: operation requires an authenticated owner")

	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("weave: row not found")

	// ErrTooManyItems is returned when a transaction exceeds the configured item limit.
	ErrTooManyItems = errors.New("weave: too many items in transaction")

	// ErrUnknownDialect is returned by Open for a dialect it cannot build.
	ErrUnknownDialect = errors.New("weave: unknown dialect")
)

// ConflictError describes why two changes could not be merged.
type ConflictError struct {
	Field  string
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConflictingChange, e.Reason)
	}
	return fmt.Sprintf("%s: field %q: %s", ErrConflictingChange, e.Field, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflictingChange }

// TransactionError wraps a backend failure. Conditional is set when the
// backend rejected the operation because an existence or ownership
// condition did not hold.
type TransactionError struct {
	Cause       error
	Conditional bool
}

func (e *TransactionError) Error() string {
	if e.Conditional {
		return fmt.Sprintf("%s: condition not met: %v", ErrTransaction, e.Cause)
	}
	return fmt.Sprintf("%s: %v", ErrTransaction, e.Cause)
}

func (e *TransactionError) Unwrap() error { return e.Cause }

func (e *TransactionError) Is(target error) bool { return target == ErrTransaction }

// UniqueConstraintViolation reports the fields and values of a unique
// constraint that another writer already holds. The backend failure behind
// it is not exposed through errors.As.
type UniqueConstraintViolation struct {
	Type   string
	Fields []string
	Values []string
	cause  error
}

func (e *UniqueConstraintViolation) Error() string {
	pairs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		v := ""
		if i < len(e.Values) {
			v = e.Values[i]
		}
		pairs[i] = fmt.Sprintf("%s=%q", f, v)
	}
	return fmt.Sprintf("%s: %s(%s)", ErrUniqueConstraint, e.Type, strings.Join(pairs, ", "))
}

func (e *UniqueConstraintViolation) Is(target error) bool { return target == ErrUniqueConstraint }
