package query

import (
	"github.com/mnohosten/shelfdb/pkg/document"
)

// Operator represents a query operator
type Operator string

const (
	// Comparison operators
	OpEqual              Operator = "$eq"
	OpNotEqual           Operator = "$ne"
	OpGreaterThan        Operator = "$gt"
	OpGreaterThanOrEqual Operator = "$gte"
	OpLessThan           Operator = "$lt"
	OpLessThanOrEqual    Operator = "$lte"
	OpIn                 Operator = "$in"
	OpNotIn              Operator = "$nin"

	// Element operators
	OpExists Operator = "$exists"

	// Logical operators
	OpAnd Operator = "$and"
	OpOr  Operator = "$or"
	OpNor Operator = "$nor"
)

var fieldOperators = map[Operator]bool{
	OpEqual:              true,
	OpNotEqual:           true,
	OpGreaterThan:        true,
	OpGreaterThanOrEqual: true,
	OpLessThan:           true,
	OpLessThanOrEqual:    true,
	OpIn:                 true,
	OpNotIn:              true,
	OpExists:             true,
}

var logicalOperators = map[Operator]bool{
	OpAnd: true,
	OpOr:  true,
	OpNor: true,
}

// IsFieldOperator reports whether op may appear inside a field's operator map
func IsFieldOperator(op Operator) bool {
	return fieldOperators[op]
}

// IsRange reports whether op is one of the ordering comparisons
func (op Operator) IsRange() bool {
	switch op {
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return true
	}
	return false
}

// evaluate applies a field operator. exists tells whether the field is
// present; absent fields never satisfy a comparison but do satisfy $ne and
// $nin.
func evaluate(op Operator, fieldValue interface{}, exists bool, operand interface{}) bool {
	switch op {
	case OpEqual:
		return exists && document.Equal(fieldValue, operand)
	case OpNotEqual:
		return !exists || !document.Equal(fieldValue, operand)
	case OpGreaterThan:
		return exists && document.Comparable(fieldValue, operand) && document.Compare(fieldValue, operand) > 0
	case OpGreaterThanOrEqual:
		return exists && document.Comparable(fieldValue, operand) && document.Compare(fieldValue, operand) >= 0
	case OpLessThan:
		return exists && document.Comparable(fieldValue, operand) && document.Compare(fieldValue, operand) < 0
	case OpLessThanOrEqual:
		return exists && document.Comparable(fieldValue, operand) && document.Compare(fieldValue, operand) <= 0
	case OpIn:
		return exists && inSet(fieldValue, operand.([]interface{}))
	case OpNotIn:
		return !exists || !inSet(fieldValue, operand.([]interface{}))
	case OpExists:
		return exists == operand.(bool)
	}
	return false
}

func inSet(value interface{}, set []interface{}) bool {
	for _, item := range set {
		if document.Equal(value, item) {
			return true
		}
	}
	return false
}
