package store

import (
	"time"
)

// ChangeKind identifies a PendingChange variant.
type ChangeKind int

const (
	KindInsertNode ChangeKind = iota + 1
	KindUpdateNode
	KindDeleteNode
	KindInsertRelation
	KindDeleteAllRelations
	KindDeleteMultipleRelations
	KindUpdateRelation
	KindInsertUniqueConstraint
	KindUpdateUniqueConstraint
	KindDeleteUniqueConstraint
)

func (k ChangeKind) String() string {
	switch k {
	case KindInsertNode:
		return "InsertNode"
	case KindUpdateNode:
		return "UpdateNode"
	case KindDeleteNode:
		return "DeleteNode"
	case KindInsertRelation:
		return "InsertRelation"
	case KindDeleteAllRelations:
		return "DeleteAllRelations"
	case KindDeleteMultipleRelations:
		return "DeleteMultipleRelations"
	case KindUpdateRelation:
		return "UpdateRelation"
	case KindInsertUniqueConstraint:
		return "InsertUniqueConstraint"
	case KindUpdateUniqueConstraint:
		return "UpdateUniqueConstraint"
	case KindDeleteUniqueConstraint:
		return "DeleteUniqueConstraint"
	}
	return "Unknown"
}

// PendingChange is a logical change to a single row. The set of variants is
// closed: only the types in this package implement it.
type PendingChange interface {
	Kind() ChangeKind
	pendingChange()
}

// Increments maps attribute names to numeric deltas written as DynamoDB
// number strings ("1", "-2", "0.5").
type Increments map[string]string

// InsertNode creates or replaces the node row (Type, ID).
type InsertNode struct {
	ID   string
	Type string
	Item Item
	Now  time.Time
}

// UpdateNode rewrites fields of an existing node row and applies numeric
// increments.
type UpdateNode struct {
	ID         string
	Type       string
	Item       Item
	Increments Increments
	Now        time.Time
}

// DeleteNode removes the node row (Type, ID).
type DeleteNode struct {
	ID   string
	Type string
}

// InsertRelation upserts the relation copy addressed by the row key and adds
// RelationNames to it. Fields may carry __created_at and __owned_by from the
// other copy of the relation so both copies agree.
type InsertRelation struct {
	FromType      string
	ToType        string
	Fields        Item
	RelationNames []string
	Now           time.Time
}

// DeleteAllRelations removes the relation row regardless of its names.
type DeleteAllRelations struct{}

// DeleteMultipleRelations removes RelationNames from the relation row.
type DeleteMultipleRelations struct {
	RelationNames []string
	Now           time.Time
}

// UpdateRelation rewrites relation fields and adjusts its name set.
type UpdateRelation struct {
	Item   Item
	Add    []string
	Remove []string
	Now    time.Time
}

// InsertUniqueConstraint claims the constraint row for Target. It fails with
// a UniqueConstraintViolation when the row already exists.
type InsertUniqueConstraint struct {
	Type   string
	Target string
	Item   Item
	Fields []string
	Values []string
	Now    time.Time
}

// UpdateUniqueConstraint rewrites an existing constraint row.
type UpdateUniqueConstraint struct {
	Target     string
	Item       Item
	Increments Increments
	Now        time.Time
}

// DeleteUniqueConstraint releases the constraint row.
type DeleteUniqueConstraint struct{}

func (*InsertNode) Kind() ChangeKind              { return KindInsertNode }
func (*UpdateNode) Kind() ChangeKind              { return KindUpdateNode }
func (*DeleteNode) Kind() ChangeKind              { return KindDeleteNode }
func (*InsertRelation) Kind() ChangeKind          { return KindInsertRelation }
func (*DeleteAllRelations) Kind() ChangeKind      { return KindDeleteAllRelations }
func (*DeleteMultipleRelations) Kind() ChangeKind { return KindDeleteMultipleRelations }
func (*UpdateRelation) Kind() ChangeKind          { return KindUpdateRelation }
func (*InsertUniqueConstraint) Kind() ChangeKind  { return KindInsertUniqueConstraint }
func (*UpdateUniqueConstraint) Kind() ChangeKind  { return KindUpdateUniqueConstraint }
func (*DeleteUniqueConstraint) Kind() ChangeKind  { return KindDeleteUniqueConstraint }

func (*InsertNode) pendingChange()              {}
func (*UpdateNode) pendingChange()              {}
func (*DeleteNode) pendingChange()              {}
func (*InsertRelation) pendingChange()          {}
func (*DeleteAllRelations) pendingChange()      {}
func (*DeleteMultipleRelations) pendingChange() {}
func (*UpdateRelation) pendingChange()          {}
func (*InsertUniqueConstraint) pendingChange()  {}
func (*UpdateUniqueConstraint) pendingChange()  {}
func (*DeleteUniqueConstraint) pendingChange()  {}

// IsNoop reports whether c would not change the row at all. No-op changes
// are never compiled or dispatched, so they leave __updated_at untouched.
func IsNoop(c PendingChange) bool {
	switch c := c.(type) {
	case *DeleteMultipleRelations:
		return len(c.RelationNames) == 0
	case *UpdateRelation:
		return len(c.Item) == 0 && len(c.Add) == 0 && len(c.Remove) == 0
	}
	return false
}

// timestampLayout is RFC 3339 with a fixed nine-digit fraction, so stored
// timestamps sort lexically in time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timestamp formats t the way both dialects store it. A zero t means now.
func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timestampLayout)
}
