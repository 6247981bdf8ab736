package store

import (
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/weave/ident"
)

// Item is a user-defined attribute map.
type Item map[string]types.AttributeValue

// clone returns a shallow copy of the map without reserved attributes.
func (i Item) clone(f *ReservedFields) Item {
	out := make(Item, len(i)+11)
	for k, v := range i {
		if f.IsReserved(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// sortedKeys returns the attribute names in lexical order.
func (i Item) sortedKeys() []string {
	keys := make([]string, 0, len(i))
	for k := range i {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RowKey addresses a single persisted row.
//
// Node rows use pk == sk == node id, relation rows use the source node id as
// pk and the target node id as sk, and constraint rows use pk == sk ==
// constraint id.
type RowKey struct {
	PK string
	SK string
}

// NodeKey returns the row key of a node.
func NodeKey(id ident.NodeID) RowKey {
	s := id.String()
	return RowKey{PK: s, SK: s}
}

// RelationKey returns the row key of the relation copy from -> to.
func RelationKey(from, to ident.NodeID) RowKey {
	return RowKey{PK: from.String(), SK: to.String()}
}

// ConstraintKey returns the row key of a unique constraint.
func ConstraintKey(id ident.ConstraintID) RowKey {
	s := id.String()
	return RowKey{PK: s, SK: s}
}

// Validate reports whether both halves of the key are present.
func (k RowKey) Validate() error {
	if k.PK == "" || k.SK == "" {
		return fmt.Errorf("%w: empty key (%q, %q)", ident.ErrInvalidIdentifier, k.PK, k.SK)
	}
	return nil
}

func (k RowKey) String() string {
	return k.PK + "|" + k.SK
}

// nodeRow checks that k addresses the node (ty, id).
func (k RowKey) nodeRow(ty, id string) (ident.NodeID, error) {
	want, err := ident.EncodeNodeID(ty, id)
	if err != nil {
		return ident.NodeID{}, err
	}
	if k.PK != want || k.SK != want {
		return ident.NodeID{}, fmt.Errorf("%w: key %s does not address node %q", ident.ErrInvalidIdentifier, k, want)
	}
	return ident.NodeID{Type: ty, ID: id}, nil
}

// relationRow checks that both halves of k are node ids.
func (k RowKey) relationRow() error {
	if _, err := ident.DecodeNodeID(k.PK); err != nil {
		return err
	}
	_, err := ident.DecodeNodeID(k.SK)
	return err
}

// constraintRow decodes the constraint addressed by k.
func (k RowKey) constraintRow() (ident.ConstraintID, error) {
	if k.PK != k.SK {
		return ident.ConstraintID{}, fmt.Errorf("%w: constraint key %s has pk != sk", ident.ErrInvalidIdentifier, k)
	}
	return ident.DecodeConstraintID(k.PK)
}

// UniqueMarker tags a compiled operation whose failure means a unique
// constraint is already held.
type UniqueMarker struct {
	Type   string
	Fields []string
	Values []string
}

func (m *UniqueMarker) violation(cause error) *UniqueConstraintViolation {
	return &UniqueConstraintViolation{
		Type:   m.Type,
		Fields: append([]string(nil), m.Fields...),
		Values: append([]string(nil), m.Values...),
		cause:  cause,
	}
}

// TxItem is one compiled DynamoDB write, keyed by the row it targets.
type TxItem struct {
	Key    RowKey
	Unique *UniqueMarker
	Write  types.TransactWriteItem
}

// Transaction is a set of TxItems that must commit atomically.
type Transaction []TxItem
