package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// TransactWriteAPI is the subset of the DynamoDB client the dispatcher uses.
type TransactWriteAPI interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoDispatcher submits compiled transactions to DynamoDB.
type DynamoDispatcher struct {
	client   TransactWriteAPI
	maxItems int
	logger   *slog.Logger
}

// NewDynamoDispatcher returns a dispatcher. A nil logger uses slog.Default.
func NewDynamoDispatcher(client TransactWriteAPI, maxItems int, logger *slog.Logger) *DynamoDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxItems < 1 || maxItems > 100 {
		maxItems = 100
	}
	return &DynamoDispatcher{client: client, maxItems: maxItems, logger: logger}
}

// Dispatch submits tx as one TransactWriteItems call.
func (d *DynamoDispatcher) Dispatch(ctx context.Context, tx Transaction) error {
	if len(tx) == 0 {
		return nil
	}
	if len(tx) > d.maxItems {
		return fmt.Errorf("%w: %d > %d", ErrTooManyItems, len(tx), d.maxItems)
	}

	writes := make([]types.TransactWriteItem, len(tx))
	for i, item := range tx {
		writes[i] = item.Write
	}

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: writes,
	})
	if err != nil {
		err = mapTransactionError(err, tx)
		d.logger.Debug("transaction rejected", "items", len(tx), "first_key", tx[0].Key.String(), "error", err)
		return err
	}
	return nil
}

// mapTransactionError maps a TransactWriteItems failure. A failed condition
// on a unique constraint item is a UniqueConstraintViolation; any other
// failed condition is a conditional TransactionError.
func mapTransactionError(err error, tx Transaction) error {
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		conditional := false
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			if i < len(tx) && tx[i].Unique != nil {
				return tx[i].Unique.violation(err)
			}
			conditional = true
		}
		return &TransactionError{Cause: err, Conditional: conditional}
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return &TransactionError{Cause: err, Conditional: true}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &TransactionError{Cause: fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)}
	}
	return &TransactionError{Cause: err}
}
