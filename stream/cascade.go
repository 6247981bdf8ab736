// Package stream provides DynamoDB Streams handlers that clean up the rows
// left behind when a node is removed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/weave/ident"
	"github.com/jacentio/weave/store"
)

// Handler processes DynamoDB stream events for node removals.
type Handler struct {
	store  *store.Store
	client dynamodb.QueryAPIClient
	config store.Config
	logger *slog.Logger
}

// NewHandler creates a new stream handler. Queries go through client and
// writes through s.
func NewHandler(s *store.Store, client dynamodb.QueryAPIClient, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := store.DefaultConfig()
	if s != nil {
		cfg = s.Config()
	}
	return &Handler{
		store:  s,
		client: client,
		config: cfg,
		logger: logger,
	}
}

// HandleNodeRemoval deletes the relation rows and unique constraint rows of
// every node removed in event. It is meant to be used as an AWS Lambda
// handler; a returned error makes the batch retry.
func (h *Handler) HandleNodeRemoval(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}
	key, ok := RowKeyFromStream(record.Change.Keys)
	if !ok || key.PK != key.SK || ident.IsConstraintID(key.PK) {
		return nil
	}
	node, err := ident.DecodeNodeID(key.PK)
	if err != nil {
		h.logger.Warn("skipping removal of undecodable row", "pk", key.PK, "error", err)
		return nil
	}

	rows, err := h.dependentRows(ctx, key.PK)
	if err != nil {
		return fmt.Errorf("query rows of %s: %w", key.PK, err)
	}

	h.logger.Info("cleaning up removed node",
		"type", node.Type,
		"id", node.ID,
		"rows", len(rows),
	)

	var firstErr error
	removed := 0
	for _, row := range rows {
		err := h.store.ToTransaction(ctx, store.Unrestricted(), row, cleanupChange(row))
		var txErr *store.TransactionError
		switch {
		case err == nil:
			removed++
		case errors.As(err, &txErr) && txErr.Conditional:
			// Already gone.
		default:
			h.logger.Warn("failed to delete dependent row", "row", row.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("clean up %s: %w", key.PK, firstErr)
	}

	h.logger.Info("node cleanup completed",
		"type", node.Type,
		"id", node.ID,
		"removed", removed,
	)
	return nil
}

// dependentRows returns the rows that reference id: constraint rows and
// relation rows pointing at it through the inverted index, and its own
// relation rows under its partition.
func (h *Handler) dependentRows(ctx context.Context, id string) ([]store.RowKey, error) {
	fields := store.Fields
	value := map[string]types.AttributeValue{":id": &types.AttributeValueMemberS{Value: id}}
	queries := []*dynamodb.QueryInput{
		{
			TableName:                 aws.String(h.config.TableName),
			IndexName:                 aws.String(h.config.InvertedIndexName),
			KeyConditionExpression:    aws.String("#gsi2pk = :id"),
			ExpressionAttributeNames:  map[string]string{"#gsi2pk": fields.InvertedIndexPK},
			ExpressionAttributeValues: value,
		},
		{
			TableName:                 aws.String(h.config.TableName),
			KeyConditionExpression:    aws.String("#pk = :id"),
			ExpressionAttributeNames:  map[string]string{"#pk": fields.PK},
			ExpressionAttributeValues: value,
		},
	}

	seen := make(map[store.RowKey]struct{})
	var rows []store.RowKey
	for _, input := range queries {
		paginator := dynamodb.NewQueryPaginator(h.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			for _, item := range page.Items {
				key, err := rowKeyFromItem(item)
				if err != nil {
					return nil, err
				}
				if key.PK == id && key.SK == id {
					continue
				}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				rows = append(rows, key)
			}
		}
	}
	return rows, nil
}

func cleanupChange(row store.RowKey) store.PendingChange {
	if ident.IsConstraintID(row.PK) {
		return &store.DeleteUniqueConstraint{}
	}
	return &store.DeleteAllRelations{}
}

func rowKeyFromItem(item map[string]types.AttributeValue) (store.RowKey, error) {
	var key store.RowKey
	pk, ok := item[store.Fields.PK]
	if !ok {
		return key, fmt.Errorf("item without %s", store.Fields.PK)
	}
	sk, ok := item[store.Fields.SK]
	if !ok {
		return key, fmt.Errorf("item without %s", store.Fields.SK)
	}
	if err := attributevalue.Unmarshal(pk, &key.PK); err != nil {
		return key, fmt.Errorf("decode %s: %w", store.Fields.PK, err)
	}
	if err := attributevalue.Unmarshal(sk, &key.SK); err != nil {
		return key, fmt.Errorf("decode %s: %w", store.Fields.SK, err)
	}
	return key, nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// RowKeyFromStream reads the row key out of a stream record's Keys.
// It reports false when either key attribute is missing or not a string.
func RowKeyFromStream(keys map[string]events.DynamoDBAttributeValue) (store.RowKey, bool) {
	key := store.RowKey{
		PK: getStringAttr(keys, store.Fields.PK),
		SK: getStringAttr(keys, store.Fields.SK),
	}
	return key, key.PK != "" && key.SK != ""
}
