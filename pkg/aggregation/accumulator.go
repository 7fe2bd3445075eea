package aggregation

import (
	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/query"
)

// AccumulatorOp names a group reducer
type AccumulatorOp string

const (
	AccSum   AccumulatorOp = "$sum"
	AccAvg   AccumulatorOp = "$avg"
	AccMin   AccumulatorOp = "$min"
	AccMax   AccumulatorOp = "$max"
	AccCount AccumulatorOp = "$count"
	AccFirst AccumulatorOp = "$first"
	AccLast  AccumulatorOp = "$last"
	AccPush  AccumulatorOp = "$push"
)

func (op AccumulatorOp) valid() bool {
	switch op {
	case AccSum, AccAvg, AccMin, AccMax, AccCount, AccFirst, AccLast, AccPush:
		return true
	}
	return false
}

// Accumulator is a compiled {$op: expression} group field
type Accumulator struct {
	Op   AccumulatorOp
	Expr Expression // nil for $count
}

func compileAccumulator(field string, spec interface{}) (Accumulator, error) {
	doc, ok := spec.(*document.Document)
	if !ok || doc.Len() != 1 {
		return Accumulator{}, query.NewValidationError("stage", "$group field %q must be a single accumulator document", field)
	}
	name := doc.Keys()[0]
	op := AccumulatorOp(name)
	if !op.valid() {
		return Accumulator{}, query.NewValidationError("stage", "unknown accumulator %s for field %q", name, field)
	}
	if op == AccCount {
		return Accumulator{Op: op}, nil
	}
	arg, _ := doc.Get(name)
	expr, err := CompileExpression(arg)
	if err != nil {
		return Accumulator{}, err
	}
	return Accumulator{Op: op, Expr: expr}, nil
}

// state is the running reduction for one accumulator within one group
type state struct {
	acc    Accumulator
	isum   int64
	fsum   float64
	floats bool
	n      int64
	value  interface{}
	hasVal bool
	items  []interface{}
}

func newState(acc Accumulator) *state {
	return &state{acc: acc}
}

func (s *state) add(doc *document.Document) error {
	if s.acc.Op == AccCount {
		s.n++
		return nil
	}

	v, err := s.acc.Expr.Evaluate(doc)
	if err != nil {
		return err
	}

	switch s.acc.Op {
	case AccSum, AccAvg:
		// non-numeric values are ignored
		switch n := v.(type) {
		case int64:
			s.isum += n
			s.n++
		case int32:
			s.isum += int64(n)
			s.n++
		case float64:
			s.fsum += n
			s.floats = true
			s.n++
		}
	case AccMin:
		if v != nil && (!s.hasVal || document.Compare(v, s.value) < 0) {
			s.value, s.hasVal = v, true
		}
	case AccMax:
		if v != nil && (!s.hasVal || document.Compare(v, s.value) > 0) {
			s.value, s.hasVal = v, true
		}
	case AccFirst:
		if !s.hasVal {
			s.value, s.hasVal = v, true
		}
	case AccLast:
		s.value, s.hasVal = v, true
	case AccPush:
		if v != nil {
			s.items = append(s.items, v)
		}
	}
	return nil
}

func (s *state) result() interface{} {
	switch s.acc.Op {
	case AccCount:
		return s.n
	case AccSum:
		if s.floats {
			return s.fsum + float64(s.isum)
		}
		return s.isum
	case AccAvg:
		if s.n == 0 {
			return nil
		}
		return (s.fsum + float64(s.isum)) / float64(s.n)
	case AccPush:
		if s.items == nil {
			return []interface{}{}
		}
		return s.items
	default:
		return s.value
	}
}
