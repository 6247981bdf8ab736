package store

import (
	"os"
	"strconv"
)

// Dialect selects the backend the compiler targets.
type Dialect string

const (
	// DialectDynamoDB compiles to DynamoDB TransactWriteItems.
	DialectDynamoDB Dialect = "dynamodb"

	// DialectSQLite compiles to SQLite statements over a document table.
	DialectSQLite Dialect = "sqlite"
)

// Config holds configuration for the Store.
type Config struct {
	// Dialect is the backend to compile for.
	// Default: DialectDynamoDB
	Dialect Dialect

	// TableName is the DynamoDB table, or the SQLite table, holding every row.
	// Default: "weave"
	TableName string

	// TypeIndexName is the index over (__gsi1pk, __gsi1sk).
	// Default: "gsi1"
	TypeIndexName string

	// InvertedIndexName is the index over (__gsi2pk, __gsi2sk).
	// Default: "gsi2"
	InvertedIndexName string

	// MaxTransactItems caps the items sent in one TransactWriteItems call.
	// Default: 100 (the DynamoDB limit)
	MaxTransactItems int

	// Region is the AWS region for the DynamoDB dialect. Empty uses the SDK default chain.
	Region string

	// Endpoint overrides the DynamoDB endpoint, e.g. for DynamoDB Local.
	Endpoint string

	// SQLitePath is the database file for the SQLite dialect.
	// Default: "weave.db"
	SQLitePath string
}

// DefaultConfig returns sensible defaults for a single-table DynamoDB deployment.
func DefaultConfig() Config {
	return Config{
		Dialect:           DialectDynamoDB,
		TableName:         "weave",
		TypeIndexName:     "gsi1",
		InvertedIndexName: "gsi2",
		MaxTransactItems:  100,
		SQLitePath:        "weave.db",
	}
}

// ConfigFromEnv returns DefaultConfig overridden by WEAVE_* environment variables.
func ConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		Dialect:           Dialect(getEnv("WEAVE_DIALECT", string(def.Dialect))),
		TableName:         getEnv("WEAVE_TABLE", def.TableName),
		TypeIndexName:     getEnv("WEAVE_TYPE_INDEX", def.TypeIndexName),
		InvertedIndexName: getEnv("WEAVE_INVERTED_INDEX", def.InvertedIndexName),
		MaxTransactItems:  getEnvInt("WEAVE_MAX_TRANSACT_ITEMS", def.MaxTransactItems),
		Region:            getEnv("AWS_REGION", ""),
		Endpoint:          getEnv("WEAVE_DYNAMODB_ENDPOINT", ""),
		SQLitePath:        getEnv("WEAVE_SQLITE_PATH", def.SQLitePath),
	}
	cfg.validate()
	return cfg
}

// validate ensures config values are within acceptable bounds. An unknown
// dialect is left as is for Open to reject.
func (c *Config) validate() {
	def := DefaultConfig()
	if c.Dialect == "" {
		c.Dialect = def.Dialect
	}
	if c.TableName == "" {
		c.TableName = def.TableName
	}
	if c.TypeIndexName == "" {
		c.TypeIndexName = def.TypeIndexName
	}
	if c.InvertedIndexName == "" {
		c.InvertedIndexName = def.InvertedIndexName
	}
	if c.MaxTransactItems < 1 || c.MaxTransactItems > 100 {
		c.MaxTransactItems = def.MaxTransactItems
	}
	if c.SQLitePath == "" {
		c.SQLitePath = def.SQLitePath
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
