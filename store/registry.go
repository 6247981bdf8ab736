package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/weave/ident"
)

// UniqueConstraint declares that the values of Fields are unique across all
// nodes of Type. Fields are in the type's canonical declaration order, which
// fixes the layout of the constraint identifier.
type UniqueConstraint struct {
	Type   string
	Fields []string
}

// Registry holds the unique constraints declared for each node type.
type Registry struct {
	constraints []UniqueConstraint
	byType      map[string][]UniqueConstraint
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		constraints: []UniqueConstraint{},
		byType:      make(map[string][]UniqueConstraint),
	}
}

// Register adds a constraint. It is meant to be called during start-up for
// every constraint of the schema.
func (r *Registry) Register(c UniqueConstraint) error {
	if len(c.Fields) == 0 {
		return fmt.Errorf("%w: constraint on %q has no fields", ident.ErrInvalidIdentifier, c.Type)
	}
	pairs := make([]ident.FieldValue, len(c.Fields))
	for i, f := range c.Fields {
		pairs[i] = ident.FieldValue{Field: f}
	}
	if _, err := ident.EncodeConstraintID(c.Type, pairs); err != nil {
		return err
	}
	c.Fields = append([]string(nil), c.Fields...)
	r.constraints = append(r.constraints, c)
	r.byType[c.Type] = append(r.byType[c.Type], c)
	return nil
}

// ConstraintsOf returns the constraints declared for a node type.
func (r *Registry) ConstraintsOf(ty string) []UniqueConstraint {
	return r.byType[ty]
}

// AllConstraints returns every registered constraint.
func (r *Registry) AllConstraints() []UniqueConstraint {
	return r.constraints
}

// HasConstraints reports whether the node type has any constraints.
func (r *Registry) HasConstraints(ty string) bool {
	return len(r.byType[ty]) > 0
}

// Claims returns an InsertUniqueConstraint for every constraint of
// target.Type whose fields are all present in item. Constraints with none of
// their fields in item are skipped; a constraint with only some of them is an
// error, since its identifier cannot be built.
func (r *Registry) Claims(target ident.NodeID, item Item, now time.Time) ([]KeyedChange, error) {
	var out []KeyedChange
	for _, c := range r.byType[target.Type] {
		id, ok, err := c.identifier(item)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, KeyedChange{
			Key: ConstraintKey(id),
			Change: &InsertUniqueConstraint{
				Type:   c.Type,
				Target: target.String(),
				Fields: id.Fields(),
				Values: id.Values(),
				Now:    now,
			},
		})
	}
	return out, nil
}

// Releases returns a DeleteUniqueConstraint for every constraint of ty whose
// fields are all present in item, typically the previous values of a node.
func (r *Registry) Releases(ty string, item Item) ([]KeyedChange, error) {
	var out []KeyedChange
	for _, c := range r.byType[ty] {
		id, ok, err := c.identifier(item)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, KeyedChange{Key: ConstraintKey(id), Change: &DeleteUniqueConstraint{}})
		}
	}
	return out, nil
}

func (c UniqueConstraint) identifier(item Item) (ident.ConstraintID, bool, error) {
	pairs := make([]ident.FieldValue, 0, len(c.Fields))
	for _, f := range c.Fields {
		av, ok := item[f]
		if !ok {
			continue
		}
		v, err := constraintValue(av)
		if err != nil {
			return ident.ConstraintID{}, false, fmt.Errorf("constraint %s field %q: %w", c.Type, f, err)
		}
		pairs = append(pairs, ident.FieldValue{Field: f, Value: v})
	}
	if len(pairs) == 0 {
		return ident.ConstraintID{}, false, nil
	}
	if len(pairs) != len(c.Fields) {
		return ident.ConstraintID{}, false, fmt.Errorf("%w: constraint %s%v needs all of its fields", ident.ErrInvalidIdentifier, c.Type, c.Fields)
	}
	return ident.ConstraintID{Type: c.Type, Pairs: pairs}, true, nil
}

// constraintValue renders a scalar attribute as the string stored in a
// constraint identifier. Numbers are canonicalized so that 1, 1.0 and 1e0
// claim the same row.
func constraintValue(av types.AttributeValue) (string, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return canonicalNumber(v.Value)
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(v.Value), nil
	}
	return "", fmt.Errorf("unsupported value type %T", av)
}
