package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EncodeDocument serializes item in DynamoDB JSON, the form the SQLite
// dialect stores in its document column:
//
//	{"name": {"S": "Ada"}, "age": {"N": "36"}}
//
// It is the wire shape of stream record images, so the lambda events types
// do the encoding. Keys of the outer object are emitted in lexical order and
// string sets are sorted.
func EncodeDocument(item map[string]types.AttributeValue) ([]byte, error) {
	doc := make(map[string]events.DynamoDBAttributeValue, len(item))
	for k, v := range item {
		av, err := toEventValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		doc[k] = av
	}
	return json.Marshal(doc)
}

// DecodeDocument parses a document written by EncodeDocument.
func DecodeDocument(data []byte) (map[string]types.AttributeValue, error) {
	var doc map[string]events.DynamoDBAttributeValue
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	item := make(map[string]types.AttributeValue, len(doc))
	for k, v := range doc {
		av, err := fromEventValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		item[k] = av
	}
	return item, nil
}

func toEventValue(av types.AttributeValue) (events.DynamoDBAttributeValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return events.NewStringAttribute(v.Value), nil
	case *types.AttributeValueMemberN:
		return events.NewNumberAttribute(v.Value), nil
	case *types.AttributeValueMemberB:
		return events.NewBinaryAttribute(v.Value), nil
	case *types.AttributeValueMemberBOOL:
		return events.NewBooleanAttribute(v.Value), nil
	case *types.AttributeValueMemberNULL:
		return events.NewNullAttribute(), nil
	case *types.AttributeValueMemberSS:
		ss := append([]string{}, v.Value...)
		sort.Strings(ss)
		return events.NewStringSetAttribute(ss), nil
	case *types.AttributeValueMemberNS:
		return events.NewNumberSetAttribute(append([]string{}, v.Value...)), nil
	case *types.AttributeValueMemberBS:
		return events.NewBinarySetAttribute(append([][]byte{}, v.Value...)), nil
	case *types.AttributeValueMemberL:
		list := make([]events.DynamoDBAttributeValue, len(v.Value))
		for i, e := range v.Value {
			av, err := toEventValue(e)
			if err != nil {
				return events.DynamoDBAttributeValue{}, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = av
		}
		return events.NewListAttribute(list), nil
	case *types.AttributeValueMemberM:
		m := make(map[string]events.DynamoDBAttributeValue, len(v.Value))
		for k, e := range v.Value {
			av, err := toEventValue(e)
			if err != nil {
				return events.DynamoDBAttributeValue{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = av
		}
		return events.NewMapAttribute(m), nil
	}
	return events.DynamoDBAttributeValue{}, fmt.Errorf("unsupported attribute value %T", av)
}

func fromEventValue(av events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch av.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: av.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: av.Number()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: av.Binary()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: av.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: av.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: av.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: av.BinarySet()}, nil
	case events.DataTypeList:
		elems := av.List()
		list := make([]types.AttributeValue, len(elems))
		for i, e := range elems {
			v, err := fromEventValue(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = v
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case events.DataTypeMap:
		fields := av.Map()
		m := make(map[string]types.AttributeValue, len(fields))
		for k, e := range fields {
			v, err := fromEventValue(e)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = v
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return nil, fmt.Errorf("unsupported data type %v", av.DataType())
}
