package store

import (
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// condition is a DynamoDB condition expression with its placeholders.
type condition struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
}

// rowExistsCondition requires the target row to exist.
func rowExistsCondition(f *ReservedFields) condition {
	return condition{
		expr:  "attribute_exists(#pk) AND attribute_exists(#sk)",
		names: map[string]string{"#pk": f.PK, "#sk": f.SK},
	}
}

// rowAbsentCondition requires the target row to be missing.
func rowAbsentCondition(f *ReservedFields) condition {
	return condition{
		expr:  "attribute_not_exists(#pk)",
		names: map[string]string{"#pk": f.PK},
	}
}

// and conjoins expr onto c.
func (c *condition) and(expr string, names map[string]string, values map[string]types.AttributeValue) {
	if c.expr == "" {
		c.expr = expr
	} else {
		c.expr = c.expr + " AND " + expr
	}
	c.names = mergeExprNames(c.names, names)
	c.values = mergeExprValues(c.values, values)
}

// updateBuilder assembles an UpdateItem expression. User attributes get
// positional placeholders (#attrN, :valN); reserved attributes get named ones
// so compiled output stays readable.
type updateBuilder struct {
	fields *ReservedFields
	set    []string
	add    []string
	del    []string
	names  map[string]string
	values map[string]types.AttributeValue
	n      int
}

func newUpdateBuilder(f *ReservedFields) *updateBuilder {
	return &updateBuilder{
		fields: f,
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

func (u *updateBuilder) placeholders(attr string) (string, string) {
	if u.fields.IsReserved(attr) {
		short := strings.TrimPrefix(attr, "__")
		return "#" + short, ":" + short
	}
	name, value := "#attr"+strconv.Itoa(u.n), ":val"+strconv.Itoa(u.n)
	u.n++
	return name, value
}

// setItem SETs every attribute of item in lexical order.
func (u *updateBuilder) setItem(item Item) {
	for _, k := range item.sortedKeys() {
		u.setField(k, item[k])
	}
}

func (u *updateBuilder) setField(attr string, v types.AttributeValue) {
	name, value := u.placeholders(attr)
	u.names[name] = attr
	u.values[value] = v
	u.set = append(u.set, name+" = "+value)
}

func (u *updateBuilder) setString(attr, v string) {
	u.setField(attr, &types.AttributeValueMemberS{Value: v})
}

func (u *updateBuilder) setIfNotExists(attr string, v types.AttributeValue) {
	name, value := u.placeholders(attr)
	u.names[name] = attr
	u.values[value] = v
	u.set = append(u.set, name+" = if_not_exists("+name+", "+value+")")
}

// addIncrements ADDs each numeric delta in lexical order.
func (u *updateBuilder) addIncrements(inc Increments) {
	keys := make([]string, 0, len(inc))
	for k := range inc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name, value := u.placeholders(k)
		u.names[name] = k
		u.values[value] = &types.AttributeValueMemberN{Value: inc[k]}
		u.add = append(u.add, name+" "+value)
	}
}

// addSet ADDs members to a string set. Empty sets are skipped because
// DynamoDB rejects them.
func (u *updateBuilder) addSet(attr, value string, members []string) {
	if len(members) == 0 {
		return
	}
	name, _ := u.placeholders(attr)
	u.names[name] = attr
	u.values[value] = &types.AttributeValueMemberSS{Value: members}
	u.add = append(u.add, name+" "+value)
}

// deleteSet removes members from a string set.
func (u *updateBuilder) deleteSet(attr, value string, members []string) {
	if len(members) == 0 {
		return
	}
	name, _ := u.placeholders(attr)
	u.names[name] = attr
	u.values[value] = &types.AttributeValueMemberSS{Value: members}
	u.del = append(u.del, name+" "+value)
}

func (u *updateBuilder) expression() string {
	var clauses []string
	if len(u.set) > 0 {
		clauses = append(clauses, "SET "+strings.Join(u.set, ", "))
	}
	if len(u.add) > 0 {
		clauses = append(clauses, "ADD "+strings.Join(u.add, ", "))
	}
	if len(u.del) > 0 {
		clauses = append(clauses, "DELETE "+strings.Join(u.del, ", "))
	}
	return strings.Join(clauses, " ")
}

// build returns the Update with cond applied.
func (u *updateBuilder) build(table string, key RowKey, cond condition) *types.Update {
	return &types.Update{
		TableName:                 aws.String(table),
		Key:                       keyAttributes(u.fields, key),
		UpdateExpression:          aws.String(u.expression()),
		ConditionExpression:       aws.String(cond.expr),
		ExpressionAttributeNames:  mergeExprNames(u.names, cond.names),
		ExpressionAttributeValues: nonEmpty(mergeExprValues(u.values, cond.values)),
	}
}

func keyAttributes(f *ReservedFields, key RowKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		f.PK: &types.AttributeValueMemberS{Value: key.PK},
		f.SK: &types.AttributeValueMemberS{Value: key.SK},
	}
}

// nonEmpty returns nil for an empty map; DynamoDB rejects empty
// ExpressionAttributeValues.
func nonEmpty(m map[string]types.AttributeValue) map[string]types.AttributeValue {
	if len(m) == 0 {
		return nil
	}
	return m
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
