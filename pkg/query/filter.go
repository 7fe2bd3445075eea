package query

import (
	"strings"

	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/index"
)

// Condition is one operator applied to one field path
type Condition struct {
	Field   string
	Op      Operator
	Operand interface{}
}

type logicalClause struct {
	op       Operator
	branches []*Filter
}

// Filter is a compiled filter descriptor. Top-level conditions and logical
// clauses are AND-combined. A Filter holds no state between evaluations.
type Filter struct {
	conditions []Condition
	clauses    []logicalClause
}

// CompileFilter validates a filter descriptor (nil, map[string]interface{} or
// *document.Document) and compiles it. Unknown operators and malformed
// operands are reported as a ValidationError. An already compiled *Filter is
// returned as is.
func CompileFilter(spec interface{}) (*Filter, error) {
	switch s := spec.(type) {
	case nil:
		return &Filter{}, nil
	case *Filter:
		if s == nil {
			return &Filter{}, nil
		}
		return s, nil
	}
	doc, ok := asDocument(spec)
	if !ok {
		return nil, NewValidationError("filter", "expected a document, got %T", spec)
	}
	return compileFilterDoc(doc)
}

func compileFilterDoc(doc *document.Document) (*Filter, error) {
	f := &Filter{}
	for _, key := range doc.Keys() {
		value, _ := doc.Get(key)

		if strings.HasPrefix(key, "$") {
			op := Operator(key)
			if !logicalOperators[op] {
				return nil, NewValidationError("filter", "unknown top-level operator %s", key)
			}
			clause, err := compileLogical(op, value)
			if err != nil {
				return nil, err
			}
			f.clauses = append(f.clauses, clause)
			continue
		}

		if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
			return nil, NewValidationError("filter", "invalid field path %q", key)
		}

		conds, err := compileFieldExpr(key, value)
		if err != nil {
			return nil, err
		}
		f.conditions = append(f.conditions, conds...)
	}
	return f, nil
}

func compileLogical(op Operator, value interface{}) (logicalClause, error) {
	arr, ok := value.([]interface{})
	if !ok || len(arr) == 0 {
		return logicalClause{}, NewValidationError("filter", "%s requires a non-empty array of filters", op)
	}
	clause := logicalClause{op: op, branches: make([]*Filter, 0, len(arr))}
	for _, item := range arr {
		sub, ok := item.(*document.Document)
		if !ok {
			return logicalClause{}, NewValidationError("filter", "%s entries must be documents, got %T", op, item)
		}
		branch, err := compileFilterDoc(sub)
		if err != nil {
			return logicalClause{}, err
		}
		clause.branches = append(clause.branches, branch)
	}
	return clause, nil
}

// compileFieldExpr handles `field: literal` and `field: {$op: operand, ...}`
func compileFieldExpr(field string, value interface{}) ([]Condition, error) {
	opDoc, isDoc := value.(*document.Document)
	if !isDoc || opDoc.Len() == 0 || !isOperatorDoc(opDoc) {
		if isDoc && hasOperatorKey(opDoc) {
			return nil, NewValidationError("filter", "field %q mixes operators and plain fields", field)
		}
		return []Condition{{Field: field, Op: OpEqual, Operand: value}}, nil
	}

	conds := make([]Condition, 0, opDoc.Len())
	for _, key := range opDoc.Keys() {
		op := Operator(key)
		if !IsFieldOperator(op) {
			return nil, NewValidationError("filter", "unknown operator %s on field %q", key, field)
		}
		operand, _ := opDoc.Get(key)
		switch op {
		case OpIn, OpNotIn:
			if _, ok := operand.([]interface{}); !ok {
				return nil, NewValidationError("filter", "%s on field %q requires an array", op, field)
			}
		case OpExists:
			if _, ok := operand.(bool); !ok {
				return nil, NewValidationError("filter", "$exists on field %q requires a boolean", field)
			}
		}
		conds = append(conds, Condition{Field: field, Op: op, Operand: operand})
	}
	return conds, nil
}

func isOperatorDoc(doc *document.Document) bool {
	for _, k := range doc.Keys() {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func hasOperatorKey(doc *document.Document) bool {
	for _, k := range doc.Keys() {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// Matches reports whether the document satisfies the filter
func (f *Filter) Matches(doc *document.Document) bool {
	for _, c := range f.conditions {
		v, exists := doc.GetPath(c.Field)
		if !evaluate(c.Op, v, exists, c.Operand) {
			return false
		}
	}
	for _, clause := range f.clauses {
		if !clause.matches(doc) {
			return false
		}
	}
	return true
}

func (c logicalClause) matches(doc *document.Document) bool {
	switch c.op {
	case OpAnd:
		for _, b := range c.branches {
			if !b.Matches(doc) {
				return false
			}
		}
		return true
	case OpOr:
		for _, b := range c.branches {
			if b.Matches(doc) {
				return true
			}
		}
		return false
	case OpNor:
		for _, b := range c.branches {
			if b.Matches(doc) {
				return false
			}
		}
		return true
	}
	return false
}

// IsEmpty reports whether the filter matches every document
func (f *Filter) IsEmpty() bool {
	return len(f.conditions) == 0 && len(f.clauses) == 0
}

// Conditions returns the top-level AND-ed field conditions
func (f *Filter) Conditions() []Condition {
	return f.conditions
}

// Bounds extracts the index-servable part of the top-level conditions. $and
// branches are folded in since they are conjunctive too. Equality wins over
// ranges on the same field; several ranges on one field are intersected.
func (f *Filter) Bounds() map[string]index.Bound {
	bounds := make(map[string]index.Bound)
	f.collectBounds(bounds)
	return bounds
}

func (f *Filter) collectBounds(bounds map[string]index.Bound) {
	for _, c := range f.conditions {
		b := bounds[c.Field]
		switch c.Op {
		case OpEqual:
			if !b.HasPoints || len(b.Points) > 1 {
				b = index.Bound{Points: []interface{}{c.Operand}, HasPoints: true}
			}
		case OpIn:
			if !b.HasPoints {
				b = index.Bound{Points: c.Operand.([]interface{}), HasPoints: true}
			}
		case OpGreaterThan, OpGreaterThanOrEqual:
			if b.HasPoints {
				continue
			}
			inclusive := c.Op == OpGreaterThanOrEqual
			if !b.HasLower || tighterLower(c.Operand, inclusive, b.Lower, b.LowerInclusive) {
				b.Lower, b.LowerInclusive, b.HasLower = c.Operand, inclusive, true
			}
		case OpLessThan, OpLessThanOrEqual:
			if b.HasPoints {
				continue
			}
			inclusive := c.Op == OpLessThanOrEqual
			if !b.HasUpper || tighterUpper(c.Operand, inclusive, b.Upper, b.UpperInclusive) {
				b.Upper, b.UpperInclusive, b.HasUpper = c.Operand, inclusive, true
			}
		default:
			continue
		}
		bounds[c.Field] = b
	}
	for _, clause := range f.clauses {
		if clause.op != OpAnd {
			continue
		}
		for _, branch := range clause.branches {
			branch.collectBounds(bounds)
		}
	}
}

func tighterLower(v interface{}, inclusive bool, current interface{}, currentInclusive bool) bool {
	if !document.Comparable(v, current) {
		return false
	}
	c := document.Compare(v, current)
	return c > 0 || (c == 0 && !inclusive && currentInclusive)
}

func tighterUpper(v interface{}, inclusive bool, current interface{}, currentInclusive bool) bool {
	if !document.Comparable(v, current) {
		return false
	}
	c := document.Compare(v, current)
	return c < 0 || (c == 0 && !inclusive && currentInclusive)
}

// asDocument normalizes descriptor input into an ordered document
func asDocument(spec interface{}) (*document.Document, bool) {
	switch s := spec.(type) {
	case *document.Document:
		return s, true
	case map[string]interface{}:
		return document.NewDocumentFromMap(s), true
	}
	return nil, false
}
