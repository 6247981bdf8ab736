package store

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Store merges pending changes per row and applies them through a Backend.
type Store struct {
	backend Backend
	config  Config
	logger  *slog.Logger
}

// New creates a Store. A nil logger uses slog.Default.
func New(backend Backend, config Config, logger *slog.Logger) *Store {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, config: config, logger: logger}
}

// Config returns the store configuration.
func (s *Store) Config() Config { return s.config }

// Dialect returns the dialect of the backend.
func (s *Store) Dialect() Dialect { return s.backend.Dialect() }

// ToTransaction folds changes into one change for the row at key and
// applies it. An empty list returns ErrUnknown. A change that folds to a
// no-op is not dispatched.
func (s *Store) ToTransaction(ctx context.Context, auth Authorizer, key RowKey, changes ...PendingChange) error {
	if err := key.Validate(); err != nil {
		return err
	}
	change, err := Fold(changes)
	if err != nil {
		return err
	}
	if IsNoop(change) {
		s.logger.Debug("skipping no-op change", "key", key.String(), "kind", change.Kind().String())
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &TransactionError{Cause: err}
	}

	if err := s.backend.Apply(ctx, auth, key, change); err != nil {
		s.logFailure(key, change, err)
		return err
	}
	s.logger.Debug("applied change", "key", key.String(), "kind", change.Kind().String())
	return nil
}

func (s *Store) logFailure(key RowKey, change PendingChange, err error) {
	attrs := []any{"key", key.String(), "kind", change.Kind().String(), "error", err}
	var txErr *TransactionError
	var violation *UniqueConstraintViolation
	if errors.As(err, &violation) && violation.cause != nil {
		attrs = append(attrs, "cause", violation.cause)
	}
	switch {
	case errors.Is(err, ErrUniqueConstraint), errors.Is(err, ErrConflictingChange):
		s.logger.Debug("change rejected", attrs...)
	case errors.As(err, &txErr) && txErr.Conditional:
		s.logger.Debug("change condition failed", attrs...)
	default:
		s.logger.Warn("change failed", attrs...)
	}
}

// KeyedChange is a pending change addressed to a row.
type KeyedChange struct {
	Key    RowKey
	Change PendingChange
}

// Apply groups changes by row, keeping their order within each row, and
// applies every row concurrently. Rows are independent: a failure on one row
// does not roll back the others. The first error is returned after every
// row has finished.
func (s *Store) Apply(ctx context.Context, auth Authorizer, changes []KeyedChange) error {
	if len(changes) == 0 {
		return ErrUnknown
	}
	var order []RowKey
	byRow := make(map[RowKey][]PendingChange)
	for _, kc := range changes {
		if _, ok := byRow[kc.Key]; !ok {
			order = append(order, kc.Key)
		}
		byRow[kc.Key] = append(byRow[kc.Key], kc.Change)
	}

	var g errgroup.Group
	for _, key := range order {
		key := key
		row := byRow[key]
		g.Go(func() error {
			return s.ToTransaction(ctx, auth, key, row...)
		})
	}
	return g.Wait()
}

// Close releases the backend if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
