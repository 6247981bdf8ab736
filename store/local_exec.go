package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var errNoRow = errors.New("no row matched")

func init() {
	// Increments use the same exact decimal arithmetic as DynamoDB's ADD
	// instead of SQLite's REAL-backed NUMERIC affinity.
	sqlite.MustRegisterDeterministicScalarFunction(sqlAddNumbers, 2, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		a, err := numberArg(args[0])
		if err != nil {
			return nil, err
		}
		b, err := numberArg(args[1])
		if err != nil {
			return nil, err
		}
		return addNumbers(a, b)
	})
}

// numberArg reads a SQL value as a DynamoDB number string. NULL is zero.
func numberArg(v driver.Value) (string, error) {
	switch v := v.(type) {
	case nil:
		return "0", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("unsupported number %T", v)
}

// SQLiteExecutor runs compiled statements against a SQLite database.
type SQLiteExecutor struct {
	db     *sql.DB
	config Config
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at cfg.SQLitePath and
// migrates its schema.
func OpenSQLite(ctx context.Context, cfg Config, logger *slog.Logger) (*SQLiteExecutor, error) {
	cfg.validate()
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", cfg.SQLitePath, err)
	}
	// SQLite allows one writer; a single connection serializes statements
	// instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	e := NewSQLiteExecutor(db, cfg, logger)
	if err := e.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// NewSQLiteExecutor wraps an open database. A nil logger uses slog.Default.
func NewSQLiteExecutor(db *sql.DB, cfg Config, logger *slog.Logger) *SQLiteExecutor {
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteExecutor{db: db, config: cfg, logger: logger}
}

// Migrate creates the records table and its indexes if they are missing.
func (e *SQLiteExecutor) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(e.config.TableName, e.config.TypeIndexName, e.config.InvertedIndexName) {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", e.config.TableName, err)
		}
	}
	return nil
}

// DB returns the underlying database.
func (e *SQLiteExecutor) DB() *sql.DB { return e.db }

// Close closes the database.
func (e *SQLiteExecutor) Close() error { return e.db.Close() }

// Exec runs st.
func (e *SQLiteExecutor) Exec(ctx context.Context, st Statement) error {
	res, err := e.db.ExecContext(ctx, st.Query, st.Args()...)
	if err != nil {
		err = mapSQLiteError(err, st)
		e.logger.Debug("statement rejected", "error", err)
		return err
	}
	if !st.RequireRow {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &TransactionError{Cause: err}
	}
	if n == 0 {
		return &TransactionError{Cause: errNoRow, Conditional: true}
	}
	return nil
}

// mapSQLiteError maps a constraint failure on a unique constraint insert to
// a UniqueConstraintViolation.
func mapSQLiteError(err error, st Statement) error {
	var sqliteErr *sqlite.Error
	if st.Constraint != nil && errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code&0xff == sqlite3.SQLITE_CONSTRAINT {
			return st.Constraint.violation(err)
		}
	}
	return &TransactionError{Cause: err}
}

// Row is a decoded record.
type Row struct {
	Key           RowKey
	Type          string
	CreatedAt     string
	UpdatedAt     string
	RelationNames []string
	Item          map[string]types.AttributeValue
}

// Get reads the row at key. It returns ErrNotFound when the row is missing.
func (e *SQLiteExecutor) Get(ctx context.Context, key RowKey) (*Row, error) {
	q := "SELECT entity_type, created_at, updated_at, relation_names, document FROM " +
		quoteIdent(e.config.TableName) + " WHERE pk = :pk AND sk = :sk"
	var (
		entityType sql.NullString
		names, doc string
		row        = &Row{Key: key}
	)
	err := e.db.QueryRowContext(ctx, q, sql.Named("pk", key.PK), sql.Named("sk", key.SK)).
		Scan(&entityType, &row.CreatedAt, &row.UpdatedAt, &names, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	row.Type = entityType.String
	if err := json.Unmarshal([]byte(names), &row.RelationNames); err != nil {
		return nil, fmt.Errorf("decode relation names of %s: %w", key, err)
	}
	sort.Strings(row.RelationNames)
	if row.Item, err = DecodeDocument([]byte(doc)); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return row, nil
}
