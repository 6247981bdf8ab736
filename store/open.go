package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Open builds a Store for cfg.Dialect. The DynamoDB dialect loads AWS
// credentials from the default chain; the SQLite dialect opens and migrates
// cfg.SQLitePath. Any other dialect fails with ErrUnknownDialect.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Dialect {
	case DialectSQLite:
		exec, err := OpenSQLite(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		backend := NewLocalBackend(NewLocalCompiler(cfg.TableName, Fields), exec)
		return New(backend, cfg, logger), nil
	case DialectDynamoDB:
		client, err := NewDynamoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend := NewDynamoBackend(
			NewDynamoCompiler(cfg.TableName, Fields),
			NewDynamoDispatcher(client, cfg.MaxTransactItems, logger),
		)
		return New(backend, cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDialect, cfg.Dialect)
	}
}

// NewDynamoClient returns a DynamoDB client for cfg.Region and cfg.Endpoint.
func NewDynamoClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
