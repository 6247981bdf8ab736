package store

import (
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Fold merges changes left to right into one change for their row. An empty
// list returns ErrUnknown.
func Fold(changes []PendingChange) (PendingChange, error) {
	if len(changes) == 0 {
		return nil, ErrUnknown
	}
	acc := changes[0]
	for _, next := range changes[1:] {
		merged, err := Merge(acc, next)
		if err != nil {
			return nil, err
		}
		acc = merged
	}
	return acc, nil
}

// Merge combines two changes for the same row, a applied before b. Neither
// input is modified.
//
// Same-kind changes merge when they agree on their targets and do not assign
// different values to the same field. Relation name deltas cancel pairwise,
// DeleteAllRelations absorbs DeleteMultipleRelations, and an UpdateRelation
// absorbs DeleteMultipleRelations in either order. Every other pairing is a
// ConflictError.
func Merge(a, b PendingChange) (PendingChange, error) {
	switch a := a.(type) {
	case *InsertNode:
		if b, ok := b.(*InsertNode); ok {
			return mergeInsertNode(a, b)
		}
	case *UpdateNode:
		if b, ok := b.(*UpdateNode); ok {
			return mergeUpdateNode(a, b)
		}
	case *DeleteNode:
		if b, ok := b.(*DeleteNode); ok {
			if a.ID != b.ID || a.Type != b.Type {
				return nil, &ConflictError{Reason: "deletes of different nodes"}
			}
			return &DeleteNode{ID: a.ID, Type: a.Type}, nil
		}
	case *InsertRelation:
		if b, ok := b.(*InsertRelation); ok {
			return mergeInsertRelation(a, b)
		}
	case *DeleteAllRelations:
		switch b.(type) {
		case *DeleteAllRelations, *DeleteMultipleRelations:
			return &DeleteAllRelations{}, nil
		}
	case *DeleteMultipleRelations:
		switch b := b.(type) {
		case *DeleteAllRelations:
			return &DeleteAllRelations{}, nil
		case *DeleteMultipleRelations:
			d := newNameDelta(nil, a.RelationNames)
			d.apply(nil, b.RelationNames)
			return &DeleteMultipleRelations{RelationNames: d.removed(), Now: latest(a.Now, b.Now)}, nil
		case *UpdateRelation:
			d := newNameDelta(nil, a.RelationNames)
			d.apply(b.Add, b.Remove)
			return &UpdateRelation{Item: copyItem(b.Item), Add: d.added(), Remove: d.removed(), Now: latest(a.Now, b.Now)}, nil
		}
	case *UpdateRelation:
		switch b := b.(type) {
		case *UpdateRelation:
			item, err := mergeItems(a.Item, b.Item)
			if err != nil {
				return nil, err
			}
			d := newNameDelta(a.Add, a.Remove)
			d.apply(b.Add, b.Remove)
			return &UpdateRelation{Item: item, Add: d.added(), Remove: d.removed(), Now: latest(a.Now, b.Now)}, nil
		case *DeleteMultipleRelations:
			d := newNameDelta(a.Add, a.Remove)
			d.apply(nil, b.RelationNames)
			return &UpdateRelation{Item: copyItem(a.Item), Add: d.added(), Remove: d.removed(), Now: latest(a.Now, b.Now)}, nil
		}
	case *InsertUniqueConstraint:
		if b, ok := b.(*InsertUniqueConstraint); ok {
			return mergeInsertUnique(a, b)
		}
	case *UpdateUniqueConstraint:
		if b, ok := b.(*UpdateUniqueConstraint); ok {
			if a.Target != b.Target {
				return nil, &ConflictError{Field: "target", Reason: "constraint updates point at different nodes"}
			}
			item, inc, err := mergeFieldsAndIncrements(a.Item, a.Increments, b.Item, b.Increments)
			if err != nil {
				return nil, err
			}
			return &UpdateUniqueConstraint{Target: a.Target, Item: item, Increments: inc, Now: latest(a.Now, b.Now)}, nil
		}
	case *DeleteUniqueConstraint:
		if _, ok := b.(*DeleteUniqueConstraint); ok {
			return &DeleteUniqueConstraint{}, nil
		}
	}
	return nil, &ConflictError{Reason: fmt.Sprintf("cannot merge %s with %s", a.Kind(), b.Kind())}
}

func mergeInsertNode(a, b *InsertNode) (PendingChange, error) {
	if a.ID != b.ID || a.Type != b.Type {
		return nil, &ConflictError{Reason: "inserts of different nodes"}
	}
	item, err := mergeItems(a.Item, b.Item)
	if err != nil {
		return nil, err
	}
	return &InsertNode{ID: a.ID, Type: a.Type, Item: item, Now: latest(a.Now, b.Now)}, nil
}

func mergeUpdateNode(a, b *UpdateNode) (PendingChange, error) {
	if a.ID != b.ID || a.Type != b.Type {
		return nil, &ConflictError{Reason: "updates of different nodes"}
	}
	item, inc, err := mergeFieldsAndIncrements(a.Item, a.Increments, b.Item, b.Increments)
	if err != nil {
		return nil, err
	}
	return &UpdateNode{ID: a.ID, Type: a.Type, Item: item, Increments: inc, Now: latest(a.Now, b.Now)}, nil
}

func mergeInsertRelation(a, b *InsertRelation) (PendingChange, error) {
	if a.FromType != b.FromType || a.ToType != b.ToType {
		return nil, &ConflictError{Reason: "relation inserts between different types"}
	}
	fields, err := mergeItems(a.Fields, b.Fields)
	if err != nil {
		return nil, err
	}
	d := newNameDelta(a.RelationNames, nil)
	d.apply(b.RelationNames, nil)
	return &InsertRelation{
		FromType:      a.FromType,
		ToType:        a.ToType,
		Fields:        fields,
		RelationNames: d.added(),
		Now:           latest(a.Now, b.Now),
	}, nil
}

func mergeInsertUnique(a, b *InsertUniqueConstraint) (PendingChange, error) {
	if a.Type != b.Type || a.Target != b.Target {
		return nil, &ConflictError{Reason: "constraint inserts for different owners"}
	}
	if !reflect.DeepEqual(a.Fields, b.Fields) || !reflect.DeepEqual(a.Values, b.Values) {
		return nil, &ConflictError{Reason: "constraint inserts with different values"}
	}
	item, err := mergeItems(a.Item, b.Item)
	if err != nil {
		return nil, err
	}
	return &InsertUniqueConstraint{
		Type:   a.Type,
		Target: a.Target,
		Item:   item,
		Fields: append([]string(nil), a.Fields...),
		Values: append([]string(nil), a.Values...),
		Now:    latest(a.Now, b.Now),
	}, nil
}

func copyItem(i Item) Item {
	if i == nil {
		return nil
	}
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// mergeItems unions two items. A field present in both must hold equal values.
func mergeItems(a, b Item) (Item, error) {
	out := copyItem(a)
	if out == nil && len(b) > 0 {
		out = make(Item, len(b))
	}
	for k, v := range b {
		if prev, ok := out[k]; ok && !reflect.DeepEqual(prev, v) {
			return nil, &ConflictError{Field: k, Reason: "assigned different values"}
		}
		out[k] = v
	}
	return out, nil
}

func mergeFieldsAndIncrements(ai Item, ainc Increments, bi Item, binc Increments) (Item, Increments, error) {
	item, err := mergeItems(ai, bi)
	if err != nil {
		return nil, nil, err
	}
	inc, err := sumIncrements(ainc, binc)
	if err != nil {
		return nil, nil, err
	}
	for k := range inc {
		if _, ok := item[k]; ok {
			return nil, nil, &ConflictError{Field: k, Reason: "both assigned and incremented"}
		}
	}
	return item, inc, nil
}

func sumIncrements(a, b Increments) (Increments, error) {
	if len(a) == 0 && len(b) == 0 {
		return nil, nil
	}
	out := make(Increments, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		prev, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		sum, err := addNumbers(prev, v)
		if err != nil {
			return nil, &ConflictError{Field: k, Reason: err.Error()}
		}
		out[k] = sum
	}
	return out, nil
}

// addNumbers adds two DynamoDB number strings exactly.
func addNumbers(a, b string) (string, error) {
	if x, err := strconv.ParseInt(a, 10, 64); err == nil {
		if y, err := strconv.ParseInt(b, 10, 64); err == nil {
			if s := x + y; (s > x) == (y > 0) {
				return strconv.FormatInt(s, 10), nil
			}
		}
	}
	x, ok := new(big.Rat).SetString(a)
	if !ok {
		return "", fmt.Errorf("invalid number %q", a)
	}
	y, ok := new(big.Rat).SetString(b)
	if !ok {
		return "", fmt.Errorf("invalid number %q", b)
	}
	sum := new(big.Rat).Add(x, y)
	if sum.IsInt() {
		return sum.Num().String(), nil
	}
	return strings.TrimRight(strings.TrimRight(sum.FloatString(38), "0"), "."), nil
}

// canonicalNumber spells a DynamoDB number the way addNumbers does: an
// integer without sign or leading zeros, or a decimal without trailing zeros.
func canonicalNumber(n string) (string, error) {
	return addNumbers(n, "0")
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// nameDelta tracks relation names to add and remove with set semantics.
// Adding a name that is pending removal cancels the removal, and the other
// way around.
type nameDelta struct {
	add    map[string]struct{}
	remove map[string]struct{}
}

func newNameDelta(add, remove []string) *nameDelta {
	d := &nameDelta{add: map[string]struct{}{}, remove: map[string]struct{}{}}
	d.apply(add, remove)
	return d
}

func (d *nameDelta) apply(add, remove []string) {
	for _, n := range add {
		if _, ok := d.remove[n]; ok {
			delete(d.remove, n)
			continue
		}
		d.add[n] = struct{}{}
	}
	for _, n := range remove {
		if _, ok := d.add[n]; ok {
			delete(d.add, n)
			continue
		}
		d.remove[n] = struct{}{}
	}
}

func (d *nameDelta) added() []string   { return sortedSet(d.add) }
func (d *nameDelta) removed() []string { return sortedSet(d.remove) }

func sortedSet(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// uniqueSorted returns the distinct values of names in lexical order.
func uniqueSorted(names []string) []string {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return sortedSet(set)
}
