package store_test

import (
	"testing"

	"github.com/jacentio/weave/store"
)

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig()

	if cfg.Dialect != store.DialectDynamoDB {
		t.Errorf("expected dialect 'dynamodb', got %q", cfg.Dialect)
	}
	if cfg.TableName != "weave" {
		t.Errorf("expected TableName 'weave', got %q", cfg.TableName)
	}
	if cfg.TypeIndexName != "gsi1" || cfg.InvertedIndexName != "gsi2" {
		t.Errorf("unexpected index names %q %q", cfg.TypeIndexName, cfg.InvertedIndexName)
	}
	if cfg.MaxTransactItems != 100 {
		t.Errorf("expected MaxTransactItems 100, got %d", cfg.MaxTransactItems)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("WEAVE_DIALECT", "sqlite")
	t.Setenv("WEAVE_TABLE", "graph")
	t.Setenv("WEAVE_MAX_TRANSACT_ITEMS", "25")
	t.Setenv("WEAVE_SQLITE_PATH", "/tmp/graph.db")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("WEAVE_DYNAMODB_ENDPOINT", "http://localhost:8000")

	cfg := store.ConfigFromEnv()
	if cfg.Dialect != store.DialectSQLite {
		t.Errorf("expected sqlite, got %q", cfg.Dialect)
	}
	if cfg.TableName != "graph" {
		t.Errorf("expected table 'graph', got %q", cfg.TableName)
	}
	if cfg.MaxTransactItems != 25 {
		t.Errorf("expected 25, got %d", cfg.MaxTransactItems)
	}
	if cfg.SQLitePath != "/tmp/graph.db" || cfg.Region != "eu-west-1" || cfg.Endpoint != "http://localhost:8000" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.TypeIndexName != "gsi1" {
		t.Errorf("expected default type index, got %q", cfg.TypeIndexName)
	}
}

func TestConfigFromEnv_InvalidValues(t *testing.T) {
	t.Setenv("WEAVE_DIALECT", "oracle")
	t.Setenv("WEAVE_MAX_TRANSACT_ITEMS", "lots")

	cfg := store.ConfigFromEnv()
	if cfg.Dialect != "oracle" {
		t.Errorf("expected the unknown dialect to be kept for Open to reject, got %q", cfg.Dialect)
	}
	if cfg.MaxTransactItems != 100 {
		t.Errorf("expected fallback to 100, got %d", cfg.MaxTransactItems)
	}
}
