package store_test

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/weave/store"
)

// fakeDynamo is an in-memory TransactWriteAPI. It understands the existence
// and ownership conditions the compiler emits and applies writes all or
// nothing, like DynamoDB.
type fakeDynamo struct {
	mu     sync.Mutex
	rows   map[store.RowKey]map[string]types.AttributeValue
	inputs []*dynamodb.TransactWriteItemsInput
	err    error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{rows: map[store.RowKey]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func (f *fakeDynamo) row(key store.RowKey) (map[string]types.AttributeValue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[key]
	return r, ok
}

func (f *fakeDynamo) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, w := range in.TransactItems {
		key, cond, values := describe(w)
		if f.holds(key, cond, values) {
			reasons[i].Code = aws.String("None")
			continue
		}
		reasons[i].Code = aws.String("ConditionalCheckFailed")
		failed = true
	}
	if failed {
		return nil, &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
	}

	for _, w := range in.TransactItems {
		key, _, values := describe(w)
		switch {
		case w.Put != nil:
			f.rows[key] = w.Put.Item
		case w.Delete != nil:
			delete(f.rows, key)
		case w.Update != nil:
			r, ok := f.rows[key]
			if !ok {
				r = map[string]types.AttributeValue{
					store.Fields.PK: &types.AttributeValueMemberS{Value: key.PK},
					store.Fields.SK: &types.AttributeValueMemberS{Value: key.SK},
				}
				f.rows[key] = r
			}
			if owners, ok := values[":owners"].(*types.AttributeValueMemberSS); ok {
				r[store.Fields.OwnedBy] = &types.AttributeValueMemberSS{Value: union(ownersOf(r), owners.Value)}
			}
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) holds(key store.RowKey, cond string, values map[string]types.AttributeValue) bool {
	r, exists := f.rows[key]
	if strings.Contains(cond, "attribute_not_exists(#pk)") && exists {
		return false
	}
	if strings.Contains(cond, "attribute_exists(#pk)") && !exists {
		return false
	}
	if strings.Contains(cond, "contains(#owned_by, :owner)") {
		owner := values[":owner"].(*types.AttributeValueMemberS).Value
		for _, o := range ownersOf(r) {
			if o == owner {
				return true
			}
		}
		return false
	}
	return true
}

func describe(w types.TransactWriteItem) (store.RowKey, string, map[string]types.AttributeValue) {
	switch {
	case w.Put != nil:
		return keyOf(w.Put.Item), aws.ToString(w.Put.ConditionExpression), w.Put.ExpressionAttributeValues
	case w.Update != nil:
		return keyOf(w.Update.Key), aws.ToString(w.Update.ConditionExpression), w.Update.ExpressionAttributeValues
	case w.Delete != nil:
		return keyOf(w.Delete.Key), aws.ToString(w.Delete.ConditionExpression), w.Delete.ExpressionAttributeValues
	}
	return store.RowKey{}, "", nil
}

func keyOf(item map[string]types.AttributeValue) store.RowKey {
	return store.RowKey{
		PK: item[store.Fields.PK].(*types.AttributeValueMemberS).Value,
		SK: item[store.Fields.SK].(*types.AttributeValueMemberS).Value,
	}
}

func ownersOf(r map[string]types.AttributeValue) []string {
	if ss, ok := r[store.Fields.OwnedBy].(*types.AttributeValueMemberSS); ok {
		return ss.Value
	}
	return nil
}

func union(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range append(append([]string{}, a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
