package store

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// RequestedOperation is the kind of write a compiled operation performs.
type RequestedOperation int

const (
	OperationCreate RequestedOperation = iota + 1
	OperationUpdate
	OperationDelete
)

func (o RequestedOperation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	}
	return "unknown"
}

// OperationAuthorization is the decision for one RequestedOperation: either
// unrestricted, or restricted to rows owned by a user.
type OperationAuthorization struct {
	owner string
}

// Owner returns the user the operation is restricted to, if any.
func (a OperationAuthorization) Owner() (string, bool) {
	return a.owner, a.owner != ""
}

// Authorizer decides how each kind of operation is restricted.
type Authorizer interface {
	AuthorizeOperation(op RequestedOperation) (OperationAuthorization, error)
}

type unrestricted struct{}

func (unrestricted) AuthorizeOperation(RequestedOperation) (OperationAuthorization, error) {
	return OperationAuthorization{}, nil
}

// Unrestricted returns an Authorizer that never adds ownership checks.
func Unrestricted() Authorizer { return unrestricted{} }

type ownerPolicy struct {
	userID string
	ops    map[RequestedOperation]bool
}

// OwnerBased returns an Authorizer that restricts ops to rows owned by
// userID. With no ops, every operation is restricted. Restricted operations
// fail with ErrUnauthorized when userID is empty.
func OwnerBased(userID string, ops ...RequestedOperation) Authorizer {
	p := ownerPolicy{userID: userID, ops: map[RequestedOperation]bool{}}
	if len(ops) == 0 {
		ops = []RequestedOperation{OperationCreate, OperationUpdate, OperationDelete}
	}
	for _, op := range ops {
		p.ops[op] = true
	}
	return p
}

func (p ownerPolicy) AuthorizeOperation(op RequestedOperation) (OperationAuthorization, error) {
	if !p.ops[op] {
		return OperationAuthorization{}, nil
	}
	if p.userID == "" {
		return OperationAuthorization{}, ErrUnauthorized
	}
	return OperationAuthorization{owner: p.userID}, nil
}

func authorize(auth Authorizer, op RequestedOperation) (OperationAuthorization, error) {
	if auth == nil {
		return OperationAuthorization{}, nil
	}
	return auth.AuthorizeOperation(op)
}

const (
	ownerName  = "#owned_by"
	ownerValue = ":owner"
)

// injectOwnerCondition conjoins the ownership check onto a DynamoDB
// condition. It is a no-op for unrestricted operations.
func injectOwnerCondition(a OperationAuthorization, f *ReservedFields, c *condition) {
	owner, ok := a.Owner()
	if !ok {
		return
	}
	c.and("contains("+ownerName+", "+ownerValue+")",
		map[string]string{ownerName: f.OwnedBy},
		map[string]types.AttributeValue{ownerValue: &types.AttributeValueMemberS{Value: owner}})
}

// ownerPredicate returns the SQL conjunct and bindings restricting a
// statement to rows owned by the authorized user.
func ownerPredicate(a OperationAuthorization, table string, f *ReservedFields) (string, map[string]any) {
	owner, ok := a.Owner()
	if !ok {
		return "", nil
	}
	clause := " AND EXISTS (SELECT 1 FROM json_each(" + quoteIdent(table) + ".document, :owned_by_path) WHERE json_each.value = :owned_by)"
	return clause, map[string]any{
		"owned_by_path": jsonPath(f.OwnedBy, "SS"),
		"owned_by":      owner,
	}
}

// ownerSet returns the owners an inserted row carries: any copied from the
// other relation copy plus the authorized user.
func ownerSet(a OperationAuthorization, copied []string) []string {
	owners := append([]string(nil), copied...)
	if owner, ok := a.Owner(); ok {
		owners = append(owners, owner)
	}
	return uniqueSorted(owners)
}
