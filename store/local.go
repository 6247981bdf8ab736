package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Statement is one compiled SQLite statement with its named bindings.
type Statement struct {
	Query  string
	Values map[string]any

	// Constraint is set when a primary key failure means the unique
	// constraint is already held.
	Constraint *UniqueMarker

	// RequireRow is set when affecting zero rows means an existence or
	// ownership condition failed.
	RequireRow bool
}

// Args returns the bindings as sql.Named arguments in name order.
func (s Statement) Args() []any {
	names := make([]string, 0, len(s.Values))
	for k := range s.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	args := make([]any, len(names))
	for i, k := range names {
		args[i] = sql.Named(k, s.Values[k])
	}
	return args
}

// LocalCompiler turns merged changes into SQLite statements over a single
// records table.
type LocalCompiler struct {
	table  string
	fields *ReservedFields
}

// NewLocalCompiler returns a compiler writing to table. A nil fields uses the
// package default.
func NewLocalCompiler(table string, fields *ReservedFields) *LocalCompiler {
	if fields == nil {
		fields = Fields
	}
	return &LocalCompiler{table: table, fields: fields}
}

// Compile returns the statements that apply change to the row at key. No-op
// changes compile to nothing. Compile never modifies change.
func (c *LocalCompiler) Compile(auth Authorizer, key RowKey, change PendingChange) ([]Statement, error) {
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
		st  Statement
		err error
	)
	switch ch := change.(type) {
	case *InsertNode:
		st, err = c.insertNode(auth, key, ch)
	case *UpdateNode:
		st, err = c.updateNode(auth, key, ch)
	case *DeleteNode:
		if _, err = key.nodeRow(ch.Type, ch.ID); err == nil {
			st, err = c.deleteRow(auth, key)
		}
	case *InsertRelation:
		st, err = c.insertRelation(auth, key, ch)
	case *DeleteAllRelations:
		if err = key.relationRow(); err == nil {
			st, err = c.deleteRow(auth, key)
		}
	case *DeleteMultipleRelations:
		st, err = c.deleteRelationNames(auth, key, ch)
	case *UpdateRelation:
		st, err = c.updateRelation(auth, key, ch)
	case *InsertUniqueConstraint:
		st, err = c.insertUnique(auth, key, ch)
	case *UpdateUniqueConstraint:
		st, err = c.updateUnique(auth, key, ch)
	case *DeleteUniqueConstraint:
		if _, err = key.constraintRow(); err == nil {
			st, err = c.deleteRow(auth, key)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported change %T", ErrUnknown, change)
	}
	if err != nil {
		return nil, err
	}
	return []Statement{st}, nil
}

func (c *LocalCompiler) insertNode(auth Authorizer, key RowKey, ch *InsertNode) (Statement, error) {
	id, err := key.nodeRow(ch.Type, ch.ID)
	if err != nil {
		return Statement{}, err
	}
	a, err := authorize(auth, OperationCreate)
	if err != nil {
		return Statement{}, err
	}
	doc := nodeDocument(c.fields, key, id, ch.Item, timestamp(ch.Now), ownerSet(a, nil))
	values, err := c.rowValues(doc)
	if err != nil {
		return Statement{}, err
	}
	values[colRelationNames] = "[]"
	return Statement{Query: sqlInsert(c.table, true), Values: values}, nil
}

func (c *LocalCompiler) updateNode(auth Authorizer, key RowKey, ch *UpdateNode) (Statement, error) {
	id, err := key.nodeRow(ch.Type, ch.ID)
	if err != nil {
		return Statement{}, err
	}
	if err := checkIncrements(c.fields, ch.Item, ch.Increments); err != nil {
		return Statement{}, err
	}
	a, err := authorize(auth, OperationUpdate)
	if err != nil {
		return Statement{}, err
	}
	now := timestamp(ch.Now)

	patch := ch.Item.clone(c.fields)
	patch[c.fields.Type] = stringAttr(id.Type)
	patch[c.fields.TypeIndexPK] = stringAttr(id.Type)
	patch[c.fields.TypeIndexSK] = stringAttr(key.PK)
	patch[c.fields.InvertedIndexPK] = stringAttr(key.PK)
	patch[c.fields.InvertedIndexSK] = stringAttr(key.SK)
	patch[c.fields.UpdatedAt] = stringAttr(now)

	values, err := patchValues(key, patch, now)
	if err != nil {
		return Statement{}, err
	}
	values[colEntityType] = id.Type
	values[colGSI1PK] = id.Type
	values[colGSI1SK] = key.PK
	values[colGSI2PK] = key.PK
	values[colGSI2SK] = key.SK
	n := bindIncrements(values, ch.Increments)
	owner := c.bindOwner(a, values)

	q := sqlUpdateDocument(c.table, []string{colEntityType, colGSI1PK, colGSI1SK, colGSI2PK, colGSI2SK}, n, owner)
	return Statement{Query: q, Values: values, RequireRow: true}, nil
}

func (c *LocalCompiler) insertRelation(auth Authorizer, key RowKey, ch *InsertRelation) (Statement, error) {
	if err := key.relationRow(); err != nil {
		return Statement{}, err
	}
	a, err := authorize(auth, OperationCreate)
	if err != nil {
		return Statement{}, err
	}
	now := timestamp(ch.Now)
	created, copied := relationCopy(c.fields, ch.Fields)
	if created == "" {
		created = now
	}
	gsi1pk, gsi1sk, gsi2pk, gsi2sk := relationIndexes(key, ch.FromType)

	doc := ch.Fields.clone(c.fields)
	setReserved(c.fields, doc, key, ch.ToType, created, now, ownerSet(a, copied))
	doc[c.fields.TypeIndexPK] = stringAttr(gsi1pk)
	doc[c.fields.TypeIndexSK] = stringAttr(gsi1sk)
	doc[c.fields.InvertedIndexPK] = stringAttr(gsi2pk)
	doc[c.fields.InvertedIndexSK] = stringAttr(gsi2sk)

	values, err := c.rowValues(doc)
	if err != nil {
		return Statement{}, err
	}
	names := uniqueSorted(ch.RelationNames)
	for i, n := range names {
		values["to_add_"+strconv.Itoa(i)] = n
	}
	values["created_at_path"] = jsonPath(c.fields.CreatedAt)
	values["owned_by_path"] = jsonPath(c.fields.OwnedBy)
	values["owned_by_ss_path"] = jsonPath(c.fields.OwnedBy, "SS")
	return Statement{Query: sqlInsertRelation(c.table, len(names)), Values: values}, nil
}

func (c *LocalCompiler) deleteRelationNames(auth Authorizer, key RowKey, ch *DeleteMultipleRelations) (Statement, error) {
	if err := key.relationRow(); err != nil {
		return Statement{}, err
	}
	a, err := authorize(auth, OperationUpdate)
	if err != nil {
		return Statement{}, err
	}
	now := timestamp(ch.Now)
	doc, err := EncodeDocument(Item{c.fields.UpdatedAt: stringAttr(now)})
	if err != nil {
		return Statement{}, err
	}
	values := map[string]any{
		colPK:        key.PK,
		colSK:        key.SK,
		colDocument:  string(doc),
		colUpdatedAt: now,
	}
	names := uniqueSorted(ch.RelationNames)
	for i, n := range names {
		values["to_remove_"+strconv.Itoa(i)] = n
	}
	owner := c.bindOwner(a, values)
	return Statement{Query: sqlDeleteRelations(c.table, len(names), owner), Values: values, RequireRow: true}, nil
}

func (c *LocalCompiler) updateRelation(auth Authorizer, key RowKey, ch *UpdateRelation) (Statement, error) {
	if err := key.relationRow(); err != nil {
		return Statement{}, err
	}
	a, err := authorize(auth, OperationUpdate)
	if err != nil {
		return Statement{}, err
	}
	now := timestamp(ch.Now)
	patch := ch.Item.clone(c.fields)
	patch[c.fields.UpdatedAt] = stringAttr(now)
	values, err := patchValues(key, patch, now)
	if err != nil {
		return Statement{}, err
	}
	add, remove := uniqueSorted(ch.Add), uniqueSorted(ch.Remove)
	for i, n := range add {
		values["to_add_"+strconv.Itoa(i)] = n
	}
	for i, n := range remove {
		values["to_remove_"+strconv.Itoa(i)] = n
	}
	owner := c.bindOwner(a, values)
	q := sqlUpdateWithRelations(c.table, len(remove), len(add), owner)
	return Statement{Query: q, Values: values, RequireRow: true}, nil
}

func (c *LocalCompiler) insertUnique(auth Authorizer, key RowKey, ch *InsertUniqueConstraint) (Statement, error) {
	id, err := key.constraintRow()
	if err != nil {
		return Statement{}, err
	}
	marker, err := uniqueMarker(id, ch)
	if err != nil {
		return Statement{}, err
	}
	a, err := authorize(auth, OperationCreate)
	if err != nil {
		return Statement{}, err
	}
	doc := constraintDocument(c.fields, key, ch.Type, ch.Target, ch.Item, timestamp(ch.Now), ownerSet(a, nil))
	values, err := c.rowValues(doc)
	if err != nil {
		return Statement{}, err
	}
	values[colRelationNames] = "[]"
	return Statement{Query: sqlInsert(c.table, false), Values: values, Constraint: marker}, nil
}

func (c *LocalCompiler) updateUnique(auth Authorizer, key RowKey, ch *UpdateUniqueConstraint) (Statement, error) {
	if _, err := key.constraintRow(); err != nil {
		return Statement{}, err
	}
	if err := checkIncrements(c.fields, ch.Item, ch.Increments); err != nil {
		return Statement{}, err
	}
	a, err := authorize(auth, OperationUpdate)
	if err != nil {
		return Statement{}, err
	}
	now := timestamp(ch.Now)
	patch := ch.Item.clone(c.fields)
	var columns []string
	if ch.Target != "" {
		patch[c.fields.InvertedIndexPK] = stringAttr(ch.Target)
		patch[c.fields.InvertedIndexSK] = stringAttr(key.PK)
	}
	patch[c.fields.UpdatedAt] = stringAttr(now)
	values, err := patchValues(key, patch, now)
	if err != nil {
		return Statement{}, err
	}
	if ch.Target != "" {
		columns = []string{colGSI2PK, colGSI2SK}
		values[colGSI2PK] = ch.Target
		values[colGSI2SK] = key.PK
	}
	n := bindIncrements(values, ch.Increments)
	owner := c.bindOwner(a, values)
	return Statement{Query: sqlUpdateDocument(c.table, columns, n, owner), Values: values, RequireRow: true}, nil
}

func (c *LocalCompiler) deleteRow(auth Authorizer, key RowKey) (Statement, error) {
	a, err := authorize(auth, OperationDelete)
	if err != nil {
		return Statement{}, err
	}
	values := map[string]any{colPK: key.PK, colSK: key.SK}
	owner := c.bindOwner(a, values)
	return Statement{Query: sqlDeleteByIDs(c.table, owner), Values: values, RequireRow: true}, nil
}

// bindOwner adds the ownership bindings to values and returns the clause.
func (c *LocalCompiler) bindOwner(a OperationAuthorization, values map[string]any) string {
	clause, extra := ownerPredicate(a, c.table, c.fields)
	for k, v := range extra {
		values[k] = v
	}
	return clause
}

// rowValues binds every sidecar column of an inserted row from its document.
func (c *LocalCompiler) rowValues(doc Item) (map[string]any, error) {
	enc, err := EncodeDocument(doc)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		colPK:         stringOrNil(doc[c.fields.PK]),
		colSK:         stringOrNil(doc[c.fields.SK]),
		colEntityType: stringOrNil(doc[c.fields.Type]),
		colCreatedAt:  stringOrNil(doc[c.fields.CreatedAt]),
		colUpdatedAt:  stringOrNil(doc[c.fields.UpdatedAt]),
		colGSI1PK:     stringOrNil(doc[c.fields.TypeIndexPK]),
		colGSI1SK:     stringOrNil(doc[c.fields.TypeIndexSK]),
		colGSI2PK:     stringOrNil(doc[c.fields.InvertedIndexPK]),
		colGSI2SK:     stringOrNil(doc[c.fields.InvertedIndexSK]),
		colDocument:   string(enc),
	}, nil
}

// patchValues binds the key, the patch document, and the list of keys to
// clear before the patch is merged.
func patchValues(key RowKey, patch Item, now string) (map[string]any, error) {
	doc, err := EncodeDocument(patch)
	if err != nil {
		return nil, err
	}
	nulls := make(map[string]any, len(patch))
	for k := range patch {
		nulls[k] = nil
	}
	cleared, err := json.Marshal(nulls)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		colPK:        key.PK,
		colSK:        key.SK,
		"clear":      string(cleared),
		colDocument:  string(doc),
		colUpdatedAt: now,
	}, nil
}

// bindIncrements binds each increment in name order and returns how many.
func bindIncrements(values map[string]any, inc Increments) int {
	keys := make([]string, 0, len(inc))
	for k := range inc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		s := strconv.Itoa(i)
		values["inc_path_"+s] = jsonPath(k)
		values["inc_num_path_"+s] = jsonPath(k, "N")
		values["inc_"+s] = inc[k]
	}
	return len(keys)
}

func stringOrNil(av types.AttributeValue) any {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return nil
}
