// Command weave-cleanup is the Lambda handler attached to the table's
// DynamoDB stream. It deletes the relation and unique constraint rows of
// removed nodes.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := store.ConfigFromEnv()
	if cfg.Dialect != store.DialectDynamoDB {
		logger.Error("cleanup handler requires the dynamodb dialect", "dialect", string(cfg.Dialect))
		os.Exit(1)
	}

	ctx := context.Background()
	client, err := store.NewDynamoClient(ctx, cfg)
	if err != nil {
		logger.Error("failed to create dynamodb client", "error", err)
		os.Exit(1)
	}

	backend := store.NewDynamoBackend(
		store.NewDynamoCompiler(cfg.TableName, store.Fields),
		store.NewDynamoDispatcher(client, cfg.MaxTransactItems, logger),
	)
	handler := stream.NewHandler(store.New(backend, cfg, logger), client, logger)

	logger.Info("cleanup handler initialized", "table", cfg.TableName)
	lambda.Start(handler.HandleNodeRemoval)
}
