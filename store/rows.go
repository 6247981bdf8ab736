package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/weave/ident"
)

func stringAttr(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

// setReserved writes the reserved attributes every row carries.
func setReserved(f *ReservedFields, doc Item, key RowKey, ty, created, updated string, owners []string) {
	doc[f.PK] = stringAttr(key.PK)
	doc[f.SK] = stringAttr(key.SK)
	doc[f.Type] = stringAttr(ty)
	doc[f.CreatedAt] = stringAttr(created)
	doc[f.UpdatedAt] = stringAttr(updated)
	if len(owners) > 0 {
		doc[f.OwnedBy] = &types.AttributeValueMemberSS{Value: owners}
	}
}

// nodeDocument returns every attribute of an inserted node row.
func nodeDocument(f *ReservedFields, key RowKey, id ident.NodeID, item Item, now string, owners []string) Item {
	doc := item.clone(f)
	setReserved(f, doc, key, id.Type, now, now, owners)
	doc[f.TypeIndexPK] = stringAttr(id.Type)
	doc[f.TypeIndexSK] = stringAttr(key.PK)
	doc[f.InvertedIndexPK] = stringAttr(key.PK)
	doc[f.InvertedIndexSK] = stringAttr(key.SK)
	return doc
}

// constraintDocument returns every attribute of an inserted constraint row.
// Constraint rows stay out of the type index and point the inverted index at
// the node holding them.
func constraintDocument(f *ReservedFields, key RowKey, ty, target string, item Item, now string, owners []string) Item {
	doc := item.clone(f)
	setReserved(f, doc, key, ty, now, now, owners)
	doc[f.InvertedIndexPK] = stringAttr(target)
	doc[f.InvertedIndexSK] = stringAttr(key.PK)
	return doc
}

// relationCopy extracts the creation time and owners that an InsertRelation
// carries over from the other copy of the relation.
func relationCopy(f *ReservedFields, fields Item) (created string, owners []string) {
	if v, ok := fields[f.CreatedAt].(*types.AttributeValueMemberS); ok {
		created = v.Value
	}
	if v, ok := fields[f.OwnedBy].(*types.AttributeValueMemberSS); ok {
		owners = v.Value
	}
	return created, owners
}

// relationIndexes returns the index attributes of a relation copy:
// (gsi1pk, gsi1sk, gsi2pk, gsi2sk).
func relationIndexes(key RowKey, fromType string) (string, string, string, string) {
	return fromType, key.PK, key.SK, key.PK
}

// uniqueMarker checks ch against the constraint its row key encodes and
// returns the marker describing it. Missing fields and values default to the
// ones encoded in the key.
func uniqueMarker(id ident.ConstraintID, ch *InsertUniqueConstraint) (*UniqueMarker, error) {
	if ch.Type != id.Type {
		return nil, fmt.Errorf("%w: constraint type %q does not match key type %q", ident.ErrInvalidIdentifier, ch.Type, id.Type)
	}
	if ch.Target == "" {
		return nil, fmt.Errorf("%w: constraint %s has no target", ident.ErrInvalidIdentifier, id)
	}
	m := &UniqueMarker{Type: id.Type, Fields: id.Fields(), Values: id.Values()}
	if len(ch.Fields) > 0 && !equalStrings(ch.Fields, m.Fields) {
		return nil, fmt.Errorf("%w: constraint fields %v do not match key fields %v", ident.ErrInvalidIdentifier, ch.Fields, m.Fields)
	}
	if len(ch.Values) > 0 && !equalStrings(ch.Values, m.Values) {
		return nil, fmt.Errorf("%w: constraint values do not match key %s", ident.ErrInvalidIdentifier, id)
	}
	return m, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
