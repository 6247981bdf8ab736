package store

import (
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoCompiler turns merged changes into TransactWriteItems.
type DynamoCompiler struct {
	table  string
	fields *ReservedFields
}

// NewDynamoCompiler returns a compiler writing to table. A nil fields uses
// the package default.
func NewDynamoCompiler(table string, fields *ReservedFields) *DynamoCompiler {
	if fields == nil {
		fields = Fields
	}
	return &DynamoCompiler{table: table, fields: fields}
}

// Compile returns the transactions that apply change to the row at key, in
// dispatch order. No-op changes compile to nothing. Compile never modifies
// change.
func (c *DynamoCompiler) Compile(auth Authorizer, key RowKey, change PendingChange) ([]Transaction, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if change == nil {
		return nil, ErrUnknown
	}
	if IsNoop(change) {
		return nil, nil
	}

	var (
		items []TxItem
		err   error
	)
	switch ch := change.(type) {
	case *InsertNode:
		items, err = c.insertNode(auth, key, ch)
	case *UpdateNode:
		items, err = c.updateNode(auth, key, ch)
	case *DeleteNode:
		if _, err = key.nodeRow(ch.Type, ch.ID); err == nil {
			items, err = c.deleteRow(auth, key)
		}
	case *InsertRelation:
		items, err = c.insertRelation(auth, key, ch)
	case *DeleteAllRelations:
		if err = key.relationRow(); err == nil {
			items, err = c.deleteRow(auth, key)
		}
	case *DeleteMultipleRelations:
		items, err = c.deleteRelationNames(auth, key, ch)
	case *UpdateRelation:
		return c.updateRelation(auth, key, ch)
	case *InsertUniqueConstraint:
		items, err = c.insertUnique(auth, key, ch)
	case *UpdateUniqueConstraint:
		items, err = c.updateUnique(auth, key, ch)
	case *DeleteUniqueConstraint:
		if _, err = key.constraintRow(); err == nil {
			items, err = c.deleteRow(auth, key)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported change %T", ErrUnknown, change)
	}
	if err != nil {
		return nil, err
	}
	return []Transaction{items}, nil
}

func (c *DynamoCompiler) insertNode(auth Authorizer, key RowKey, ch *InsertNode) ([]TxItem, error) {
	id, err := key.nodeRow(ch.Type, ch.ID)
	if err != nil {
		return nil, err
	}
	a, err := authorize(auth, OperationCreate)
	if err != nil {
		return nil, err
	}
	doc := nodeDocument(c.fields, key, id, ch.Item, timestamp(ch.Now), ownerSet(a, nil))
	return []TxItem{{
		Key: key,
		Write: types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(c.table),
			Item:      doc,
		}},
	}}, nil
}

func (c *DynamoCompiler) updateNode(auth Authorizer, key RowKey, ch *UpdateNode) ([]TxItem, error) {
	id, err := key.nodeRow(ch.Type, ch.ID)
	if err != nil {
		return nil, err
	}
	if err := checkIncrements(c.fields, ch.Item, ch.Increments); err != nil {
		return nil, err
	}
	a, err := authorize(auth, OperationUpdate)
	if err != nil {
		return nil, err
	}
	now := timestamp(ch.Now)

	u := newUpdateBuilder(c.fields)
	u.setItem(ch.Item.clone(c.fields))
	u.setString(c.fields.Type, id.Type)
	u.setString(c.fields.TypeIndexPK, id.Type)
	u.setString(c.fields.TypeIndexSK, key.PK)
	u.setString(c.fields.InvertedIndexPK, key.PK)
	u.setString(c.fields.InvertedIndexSK, key.SK)
	u.setIfNotExists(c.fields.CreatedAt, stringAttr(now))
	u.setString(c.fields.UpdatedAt, now)
	u.addIncrements(ch.Increments)

	return c.update(a, key, u), nil
}

func (c *DynamoCompiler) insertRelation(auth Authorizer, key RowKey, ch *InsertRelation) ([]TxItem, error) {
	if err := key.relationRow(); err != nil {
		return nil, err
	}
	a, err := authorize(auth, OperationCreate)
	if err != nil {
		return nil, err
	}
	now := timestamp(ch.Now)
	created, copied := relationCopy(c.fields, ch.Fields)
	if created == "" {
		created = now
	}
	gsi1pk, gsi1sk, gsi2pk, gsi2sk := relationIndexes(key, ch.FromType)

	u := newUpdateBuilder(c.fields)
	u.setItem(ch.Fields.clone(c.fields))
	u.setString(c.fields.Type, ch.ToType)
	u.setString(c.fields.TypeIndexPK, gsi1pk)
	u.setString(c.fields.TypeIndexSK, gsi1sk)
	u.setString(c.fields.InvertedIndexPK, gsi2pk)
	u.setString(c.fields.InvertedIndexSK, gsi2sk)
	u.setIfNotExists(c.fields.CreatedAt, stringAttr(created))
	u.setString(c.fields.UpdatedAt, now)
	u.addSet(c.fields.RelationNames, ":to_add", uniqueSorted(ch.RelationNames))
	u.addSet(c.fields.OwnedBy, ":owners", ownerSet(a, copied))

	// Relation inserts are upserts: no condition.
	upd := &types.Update{
		TableName:                 aws.String(c.table),
		Key:                       keyAttributes(c.fields, key),
		UpdateExpression:          aws.String(u.expression()),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: nonEmpty(u.values),
	}
	return []TxItem{{Key: key, Write: types.TransactWriteItem{Update: upd}}}, nil
}

func (c *DynamoCompiler) deleteRelationNames(auth Authorizer, key RowKey, ch *DeleteMultipleRelations) ([]TxItem, error) {
	if err := key.relationRow(); err != nil {
		return nil, err
	}
	a, err := authorize(auth, OperationUpdate)
	if err != nil {
		return nil, err
	}
	u := newUpdateBuilder(c.fields)
	u.setString(c.fields.UpdatedAt, timestamp(ch.Now))
	u.deleteSet(c.fields.RelationNames, ":to_remove", uniqueSorted(ch.RelationNames))
	return c.update(a, key, u), nil
}

// updateRelation compiles to one transaction, or two when names are both
// added and removed: DynamoDB forbids ADD and DELETE on the same set in one
// expression, so removals run first.
func (c *DynamoCompiler) updateRelation(auth Authorizer, key RowKey, ch *UpdateRelation) ([]Transaction, error) {
	if err := key.relationRow(); err != nil {
		return nil, err
	}
	a, err := authorize(auth, OperationUpdate)
	if err != nil {
		return nil, err
	}
	now := timestamp(ch.Now)
	add, remove := uniqueSorted(ch.Add), uniqueSorted(ch.Remove)

	first := newUpdateBuilder(c.fields)
	first.setItem(ch.Item.clone(c.fields))
	first.setString(c.fields.UpdatedAt, now)
	first.deleteSet(c.fields.RelationNames, ":to_remove", remove)
	if len(remove) == 0 || len(add) == 0 {
		first.addSet(c.fields.RelationNames, ":to_add", add)
		return []Transaction{c.update(a, key, first)}, nil
	}

	second := newUpdateBuilder(c.fields)
	second.setString(c.fields.UpdatedAt, now)
	second.addSet(c.fields.RelationNames, ":to_add", add)
	return []Transaction{c.update(a, key, first), c.update(a, key, second)}, nil
}

func (c *DynamoCompiler) insertUnique(auth Authorizer, key RowKey, ch *InsertUniqueConstraint) ([]TxItem, error) {
	id, err := key.constraintRow()
	if err != nil {
		return nil, err
	}
	marker, err := uniqueMarker(id, ch)
	if err != nil {
		return nil, err
	}
	a, err := authorize(auth, OperationCreate)
	if err != nil {
		return nil, err
	}
	doc := constraintDocument(c.fields, key, ch.Type, ch.Target, ch.Item, timestamp(ch.Now), ownerSet(a, nil))
	cond := rowAbsentCondition(c.fields)
	return []TxItem{{
		Key:    key,
		Unique: marker,
		Write: types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(c.table),
			Item:                     doc,
			ConditionExpression:      aws.String(cond.expr),
			ExpressionAttributeNames: cond.names,
		}},
	}}, nil
}

func (c *DynamoCompiler) updateUnique(auth Authorizer, key RowKey, ch *UpdateUniqueConstraint) ([]TxItem, error) {
	if _, err := key.constraintRow(); err != nil {
		return nil, err
	}
	if err := checkIncrements(c.fields, ch.Item, ch.Increments); err != nil {
		return nil, err
	}
	a, err := authorize(auth, OperationUpdate)
	if err != nil {
		return nil, err
	}
	now := timestamp(ch.Now)

	u := newUpdateBuilder(c.fields)
	u.setItem(ch.Item.clone(c.fields))
	if ch.Target != "" {
		u.setString(c.fields.InvertedIndexPK, ch.Target)
		u.setString(c.fields.InvertedIndexSK, key.PK)
	}
	u.setIfNotExists(c.fields.CreatedAt, stringAttr(now))
	u.setString(c.fields.UpdatedAt, now)
	u.addIncrements(ch.Increments)
	return c.update(a, key, u), nil
}

func (c *DynamoCompiler) deleteRow(auth Authorizer, key RowKey) ([]TxItem, error) {
	a, err := authorize(auth, OperationDelete)
	if err != nil {
		return nil, err
	}
	cond := rowExistsCondition(c.fields)
	injectOwnerCondition(a, c.fields, &cond)
	return []TxItem{{
		Key: key,
		Write: types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 aws.String(c.table),
			Key:                       keyAttributes(c.fields, key),
			ConditionExpression:       aws.String(cond.expr),
			ExpressionAttributeNames:  cond.names,
			ExpressionAttributeValues: nonEmpty(cond.values),
		}},
	}}, nil
}

// update wraps u in a TxItem conditioned on the row existing and, when
// restricted, being owned by the authorized user.
func (c *DynamoCompiler) update(a OperationAuthorization, key RowKey, u *updateBuilder) []TxItem {
	cond := rowExistsCondition(c.fields)
	injectOwnerCondition(a, c.fields, &cond)
	return []TxItem{{Key: key, Write: types.TransactWriteItem{Update: u.build(c.table, key, cond)}}}
}

// checkIncrements rejects malformed deltas, reserved targets and fields
// that are both assigned and incremented.
func checkIncrements(f *ReservedFields, item Item, inc Increments) error {
	for k, v := range inc {
		if _, ok := item[k]; ok {
			return &ConflictError{Field: k, Reason: "both assigned and incremented"}
		}
		if f.IsReserved(k) {
			return &ConflictError{Field: k, Reason: "reserved field cannot be incremented"}
		}
		if _, ok := new(big.Rat).SetString(v); !ok {
			return &ConflictError{Field: k, Reason: fmt.Sprintf("invalid increment %q", v)}
		}
	}
	return nil
}
