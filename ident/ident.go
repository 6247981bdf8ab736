// Package ident encodes and decodes the composite identifiers used as
// partition and sort keys.
//
// A node identifier has the form
//
//	{type}#{id}
//
// where type is non-empty and never contains '#'. The id is everything after
// the first separator, so ids may themselves contain '#'.
//
// A constraint identifier has the form
//
//	__C_{type}#{field}={value}&{field}={value}...
//
// with every field and value query-escaped. Pairs keep the order they were
// supplied in. That order must be the type's canonical declaration order:
// two identifiers built from the same pairs in a different order are
// different identifiers.
package ident

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	// Separator splits the type segment from the rest of an identifier.
	Separator = "#"

	// ConstraintPrefix marks constraint identifiers.
	ConstraintPrefix = "__C_"

	pairSeparator  = "&"
	valueSeparator = "="
)

// ErrInvalidIdentifier is returned when an identifier cannot be decoded.
var ErrInvalidIdentifier = errors.New("weave: invalid identifier")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidIdentifier, fmt.Sprintf(format, args...))
}

// NodeID identifies a node by its type and id.
type NodeID struct {
	Type string
	ID   string
}

// NewNodeID returns a NodeID of the given type with a generated id.
func NewNodeID(ty string) NodeID {
	return NodeID{Type: ty, ID: uuid.NewString()}
}

// EncodeNodeID returns the string form of (ty, id).
func EncodeNodeID(ty, id string) (string, error) {
	if err := validateType(ty); err != nil {
		return "", err
	}
	if id == "" {
		return "", invalid("empty id for type %q", ty)
	}
	return ty + Separator + id, nil
}

// String returns the encoded identifier. It panics if n is not encodable,
// use EncodeNodeID when the parts come from untrusted input.
func (n NodeID) String() string {
	s, err := EncodeNodeID(n.Type, n.ID)
	if err != nil {
		panic(err)
	}
	return s
}

// DecodeNodeID parses an identifier produced by EncodeNodeID.
func DecodeNodeID(s string) (NodeID, error) {
	if strings.HasPrefix(s, ConstraintPrefix) {
		return NodeID{}, invalid("%q is a constraint identifier", s)
	}
	ty, id, ok := strings.Cut(s, Separator)
	if !ok {
		return NodeID{}, invalid("missing separator in %q", s)
	}
	if ty == "" {
		return NodeID{}, invalid("missing type in %q", s)
	}
	if id == "" {
		return NodeID{}, invalid("missing id in %q", s)
	}
	return NodeID{Type: ty, ID: id}, nil
}

// FieldValue is one (field, value) pair of a constraint.
type FieldValue struct {
	Field string
	Value string
}

// ConstraintID identifies a unique constraint row.
type ConstraintID struct {
	Type  string
	Pairs []FieldValue
}

// Fields returns the constraint field names in order.
func (c ConstraintID) Fields() []string {
	out := make([]string, len(c.Pairs))
	for i, p := range c.Pairs {
		out[i] = p.Field
	}
	return out
}

// Values returns the constraint values in field order.
func (c ConstraintID) Values() []string {
	out := make([]string, len(c.Pairs))
	for i, p := range c.Pairs {
		out[i] = p.Value
	}
	return out
}

// String returns the encoded identifier. It panics if c is not encodable.
func (c ConstraintID) String() string {
	s, err := EncodeConstraintID(c.Type, c.Pairs)
	if err != nil {
		panic(err)
	}
	return s
}

// EncodeConstraintID returns the string form of a constraint on ty.
// Pairs must be supplied in the type's canonical declaration order.
func EncodeConstraintID(ty string, pairs []FieldValue) (string, error) {
	if err := validateType(ty); err != nil {
		return "", err
	}
	if len(pairs) == 0 {
		return "", invalid("constraint on %q has no fields", ty)
	}

	var b strings.Builder
	b.WriteString(ConstraintPrefix)
	b.WriteString(ty)
	b.WriteString(Separator)
	seen := make(map[string]struct{}, len(pairs))
	for i, p := range pairs {
		if p.Field == "" {
			return "", invalid("empty field name in constraint on %q", ty)
		}
		if _, dup := seen[p.Field]; dup {
			return "", invalid("duplicate field %q in constraint on %q", p.Field, ty)
		}
		seen[p.Field] = struct{}{}
		if i > 0 {
			b.WriteString(pairSeparator)
		}
		b.WriteString(url.QueryEscape(p.Field))
		b.WriteString(valueSeparator)
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String(), nil
}

// DecodeConstraintID parses an identifier produced by EncodeConstraintID.
// Any other spelling of the same pairs is rejected.
func DecodeConstraintID(s string) (ConstraintID, error) {
	rest, ok := strings.CutPrefix(s, ConstraintPrefix)
	if !ok {
		return ConstraintID{}, invalid("missing constraint prefix in %q", s)
	}
	ty, body, ok := strings.Cut(rest, Separator)
	if !ok {
		return ConstraintID{}, invalid("missing separator in %q", s)
	}
	if ty == "" {
		return ConstraintID{}, invalid("missing type in %q", s)
	}
	if body == "" {
		return ConstraintID{}, invalid("constraint %q has no fields", s)
	}

	parts := strings.Split(body, pairSeparator)
	pairs := make([]FieldValue, 0, len(parts))
	for _, part := range parts {
		rawField, rawValue, ok := strings.Cut(part, valueSeparator)
		if !ok {
			return ConstraintID{}, invalid("malformed pair %q in %q", part, s)
		}
		field, err := url.QueryUnescape(rawField)
		if err != nil || field == "" {
			return ConstraintID{}, invalid("malformed field %q in %q", rawField, s)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return ConstraintID{}, invalid("malformed value %q in %q", rawValue, s)
		}
		pairs = append(pairs, FieldValue{Field: field, Value: value})
	}

	// Only the encoder's own spelling is accepted, so each constraint has
	// exactly one row key.
	canonical, err := EncodeConstraintID(ty, pairs)
	if err != nil {
		return ConstraintID{}, err
	}
	if canonical != s {
		return ConstraintID{}, invalid("%q is not in canonical form %q", s, canonical)
	}
	return ConstraintID{Type: ty, Pairs: pairs}, nil
}

// IsConstraintID reports whether s looks like a constraint identifier.
func IsConstraintID(s string) bool {
	return strings.HasPrefix(s, ConstraintPrefix)
}

func validateType(ty string) error {
	if ty == "" {
		return invalid("empty type")
	}
	if strings.Contains(ty, Separator) {
		return invalid("type %q contains %q", ty, Separator)
	}
	if strings.HasPrefix(ty, ConstraintPrefix) {
		return invalid("type %q uses the reserved prefix %q", ty, ConstraintPrefix)
	}
	return nil
}
