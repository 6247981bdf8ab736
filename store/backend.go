package store

import (
	"context"
	"io"
)

// Backend compiles a merged change for one row and applies it.
type Backend interface {
	Dialect() Dialect
	Apply(ctx context.Context, auth Authorizer, key RowKey, change PendingChange) error
}

// Dispatcher submits one DynamoDB transaction.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx Transaction) error
}

// Executor runs one SQLite statement.
type Executor interface {
	Exec(ctx context.Context, st Statement) error
}

// DynamoBackend compiles to TransactWriteItems.
type DynamoBackend struct {
	compiler   *DynamoCompiler
	dispatcher Dispatcher
}

// NewDynamoBackend returns a DynamoDB backend.
func NewDynamoBackend(compiler *DynamoCompiler, dispatcher Dispatcher) *DynamoBackend {
	return &DynamoBackend{compiler: compiler, dispatcher: dispatcher}
}

func (b *DynamoBackend) Dialect() Dialect { return DialectDynamoDB }

// Apply dispatches each compiled transaction in order, stopping at the
// first failure.
func (b *DynamoBackend) Apply(ctx context.Context, auth Authorizer, key RowKey, change PendingChange) error {
	txs, err := b.compiler.Compile(auth, key, change)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if err := b.dispatcher.Dispatch(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

// LocalBackend compiles to SQLite statements.
type LocalBackend struct {
	compiler *LocalCompiler
	executor Executor
}

// NewLocalBackend returns a SQLite backend.
func NewLocalBackend(compiler *LocalCompiler, executor Executor) *LocalBackend {
	return &LocalBackend{compiler: compiler, executor: executor}
}

func (b *LocalBackend) Dialect() Dialect { return DialectSQLite }

func (b *LocalBackend) Apply(ctx context.Context, auth Authorizer, key RowKey, change PendingChange) error {
	stmts, err := b.compiler.Compile(auth, key, change)
	if err != nil {
		return err
	}
	for _, st := range stmts {
		if err := b.executor.Exec(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the executor if it holds resources.
func (b *LocalBackend) Close() error {
	if c, ok := b.executor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
