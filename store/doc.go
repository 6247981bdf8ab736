// Package store compiles logical row changes into backend write operations.
//
// Every row lives in one table and is addressed by a [RowKey]. Callers queue
// [PendingChange] values per row; the [Store] folds the queue for each row
// into a single change and compiles it for one of two dialects:
//
//   - DynamoDB: TransactWriteItems with hand-built condition and update
//     expressions ([DynamoCompiler], [DynamoDispatcher])
//   - SQLite: statements over a records table holding the item as
//     DynamoDB JSON plus sidecar key and index columns ([LocalCompiler],
//     [SQLiteExecutor])
//
// # Row layout
//
// Node rows use pk == sk == node id. A relation between two nodes is stored
// twice, once under each node as pk, with the other node as sk. Unique
// constraint rows use pk == sk == constraint id and point the inverted index
// at the node holding them. The reserved attributes are named by [Fields].
//
// # Ownership
//
// An [Authorizer] decides per operation whether writes are restricted to
// rows the caller owns. Creates record the caller in the owner set; updates
// and deletes only succeed when the caller is in it:
//
//	auth := store.OwnerBased(userID, store.OperationUpdate, store.OperationDelete)
//	err := s.ToTransaction(ctx, auth, key, &store.UpdateNode{...})
//
// # Configuration
//
// Use [DefaultConfig] or [ConfigFromEnv], then [Open]:
//
//	cfg := store.ConfigFromEnv()
//	cfg.Dialect = store.DialectSQLite
//	s, err := store.Open(ctx, cfg, slog.Default())
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrConflictingChange] - two changes for a row cannot be merged
//   - [ErrTransaction] - the backend rejected or failed the write
//   - [ErrUniqueConstraint] - a unique constraint is already held
//   - [ErrUnknown] - nothing to apply
//   - [ErrUnauthorized] - an owner-restricted operation has no user
//   - [ErrNotFound] - the row does not exist
package store
