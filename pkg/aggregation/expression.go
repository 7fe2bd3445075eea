package aggregation

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/query"
)

// Expression computes a value from one document
type Expression interface {
	Evaluate(doc *document.Document) (interface{}, error)
}

// CompileExpression compiles an expression descriptor:
//
//	"$field.path"            field reference (absent evaluates to null)
//	{"$op": args}            operator call
//	{"$literal": v}          v, uninterpreted
//	{"a": expr, "b": expr}   document built from sub-expressions
//	[expr, ...]              array built from sub-expressions
//	anything else            literal
func CompileExpression(spec interface{}) (Expression, error) {
	spec = document.Normalize(spec)
	switch s := spec.(type) {
	case string:
		if strings.HasPrefix(s, "$") {
			path := s[1:]
			if path == "" || strings.HasPrefix(path, "$") {
				return nil, query.NewValidationError("expression", "invalid field reference %q", s)
			}
			return fieldRef{path: path}, nil
		}
		return literal{value: s}, nil
	case []interface{}:
		items := make(arrayExpr, len(s))
		for i, item := range s {
			e, err := CompileExpression(item)
			if err != nil {
				return nil, err
			}
			items[i] = e
		}
		return items, nil
	case *document.Document:
		return compileDocumentExpr(s)
	default:
		return literal{value: s}, nil
	}
}

func compileDocumentExpr(doc *document.Document) (Expression, error) {
	keys := doc.Keys()
	if len(keys) == 1 && strings.HasPrefix(keys[0], "$") {
		name := keys[0]
		arg, _ := doc.Get(name)
		if name == "$literal" {
			return literal{value: arg}, nil
		}
		def, ok := operators[name]
		if !ok {
			return nil, query.NewValidationError("expression", "unknown operator %s", name)
		}
		rawArgs, isArray := arg.([]interface{})
		if !isArray {
			rawArgs = []interface{}{arg}
		}
		if len(rawArgs) < def.minArgs || (def.maxArgs >= 0 && len(rawArgs) > def.maxArgs) {
			return nil, query.NewValidationError("expression", "%s takes %s, got %d", name, def.arity(), len(rawArgs))
		}
		args := make([]Expression, len(rawArgs))
		for i, raw := range rawArgs {
			e, err := CompileExpression(raw)
			if err != nil {
				return nil, err
			}
			args[i] = e
		}
		return &operatorExpr{name: name, def: def, args: args}, nil
	}

	obj := &objectExpr{}
	for _, k := range keys {
		if strings.HasPrefix(k, "$") {
			return nil, query.NewValidationError("expression", "operator %s must be the only key of its document", k)
		}
		v, _ := doc.Get(k)
		e, err := CompileExpression(v)
		if err != nil {
			return nil, err
		}
		obj.keys = append(obj.keys, k)
		obj.exprs = append(obj.exprs, e)
	}
	return obj, nil
}

type fieldRef struct{ path string }

func (f fieldRef) Evaluate(doc *document.Document) (interface{}, error) {
	v, _ := doc.GetPath(f.path)
	return v, nil
}

type literal struct{ value interface{} }

func (l literal) Evaluate(*document.Document) (interface{}, error) {
	return l.value, nil
}

type arrayExpr []Expression

func (a arrayExpr) Evaluate(doc *document.Document) (interface{}, error) {
	out := make([]interface{}, len(a))
	for i, e := range a {
		v, err := e.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type objectExpr struct {
	keys  []string
	exprs []Expression
}

func (o *objectExpr) Evaluate(doc *document.Document) (interface{}, error) {
	out := document.NewDocument()
	for i, k := range o.keys {
		v, err := o.exprs[i].Evaluate(doc)
		if err != nil {
			return nil, err
		}
		out.Set(k, v)
	}
	return out, nil
}

type operatorDef struct {
	minArgs, maxArgs int // maxArgs -1 means variadic
	apply            func(op string, args []interface{}) (interface{}, error)
}

func (d operatorDef) arity() string {
	switch {
	case d.maxArgs < 0:
		return "at least " + strconv.Itoa(d.minArgs) + " arguments"
	case d.minArgs == d.maxArgs && d.minArgs == 1:
		return "1 argument"
	case d.minArgs == d.maxArgs:
		return strconv.Itoa(d.minArgs) + " arguments"
	}
	return strconv.Itoa(d.minArgs) + " to " + strconv.Itoa(d.maxArgs) + " arguments"
}

type operatorExpr struct {
	name string
	def  operatorDef
	args []Expression
}

func (o *operatorExpr) Evaluate(doc *document.Document) (interface{}, error) {
	vals := make([]interface{}, len(o.args))
	for i, a := range o.args {
		v, err := a.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return o.def.apply(o.name, vals)
}

var operators map[string]operatorDef

func init() {
	operators = map[string]operatorDef{
		"$add":      {minArgs: 1, maxArgs: -1, apply: evalAdd},
		"$multiply": {minArgs: 1, maxArgs: -1, apply: evalMultiply},
		"$subtract": {minArgs: 2, maxArgs: 2, apply: evalSubtract},
		"$divide":   {minArgs: 2, maxArgs: 2, apply: evalDivide},
		"$mod":      {minArgs: 2, maxArgs: 2, apply: evalMod},
		"$floor":    {minArgs: 1, maxArgs: 1, apply: evalRound(math.Floor)},
		"$ceil":     {minArgs: 1, maxArgs: 1, apply: evalRound(math.Ceil)},
		"$toString": {minArgs: 1, maxArgs: 1, apply: evalToString},
		"$concat":   {minArgs: 1, maxArgs: -1, apply: evalConcat},
		"$toUpper":  {minArgs: 1, maxArgs: 1, apply: evalCase(strings.ToUpper)},
		"$toLower":  {minArgs: 1, maxArgs: 1, apply: evalCase(strings.ToLower)},
	}
}

// numericArgs checks that every argument is a number. A null argument makes
// the whole expression null, reported as ok=false with no error.
func numericArgs(op string, args []interface{}) (ok bool, allInts bool, err error) {
	allInts = true
	for _, a := range args {
		if a == nil {
			return false, false, nil
		}
		switch a.(type) {
		case int32, int64:
		case float64:
			allInts = false
		default:
			return false, false, evalErrorf(op, "expected a number, got %s", document.TypeOf(a))
		}
	}
	return true, allInts, nil
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	}
	return 0
}

func evalAdd(op string, args []interface{}) (interface{}, error) {
	ok, ints, err := numericArgs(op, args)
	if !ok {
		return nil, err
	}
	if ints {
		var sum int64
		for _, a := range args {
			sum += asInt(a)
		}
		return sum, nil
	}
	sum := 0.0
	for _, a := range args {
		f, _ := document.ToFloat64(a)
		sum += f
	}
	return sum, nil
}

func evalMultiply(op string, args []interface{}) (interface{}, error) {
	ok, ints, err := numericArgs(op, args)
	if !ok {
		return nil, err
	}
	if ints {
		product := int64(1)
		for _, a := range args {
			product *= asInt(a)
		}
		return product, nil
	}
	product := 1.0
	for _, a := range args {
		f, _ := document.ToFloat64(a)
		product *= f
	}
	return product, nil
}

func evalSubtract(op string, args []interface{}) (interface{}, error) {
	ok, ints, err := numericArgs(op, args)
	if !ok {
		return nil, err
	}
	if ints {
		return asInt(args[0]) - asInt(args[1]), nil
	}
	a, _ := document.ToFloat64(args[0])
	b, _ := document.ToFloat64(args[1])
	return a - b, nil
}

func evalDivide(op string, args []interface{}) (interface{}, error) {
	ok, _, err := numericArgs(op, args)
	if !ok {
		return nil, err
	}
	a, _ := document.ToFloat64(args[0])
	b, _ := document.ToFloat64(args[1])
	if b == 0 {
		return nil, evalErrorf(op, "division by zero")
	}
	return a / b, nil
}

func evalMod(op string, args []interface{}) (interface{}, error) {
	ok, ints, err := numericArgs(op, args)
	if !ok {
		return nil, err
	}
	if ints {
		d := asInt(args[1])
		if d == 0 {
			return nil, evalErrorf(op, "division by zero")
		}
		return asInt(args[0]) % d, nil
	}
	a, _ := document.ToFloat64(args[0])
	b, _ := document.ToFloat64(args[1])
	if b == 0 {
		return nil, evalErrorf(op, "division by zero")
	}
	return math.Mod(a, b), nil
}

func evalRound(fn func(float64) float64) func(string, []interface{}) (interface{}, error) {
	return func(op string, args []interface{}) (interface{}, error) {
		ok, ints, err := numericArgs(op, args)
		if !ok {
			return nil, err
		}
		if ints {
			return asInt(args[0]), nil
		}
		f, _ := document.ToFloat64(args[0])
		return fn(f), nil
	}
}

func evalToString(op string, args []interface{}) (interface{}, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case document.ObjectID:
		return v.Hex(), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	default:
		return nil, evalErrorf(op, "cannot convert %s to string", document.TypeOf(v))
	}
}

func evalConcat(op string, args []interface{}) (interface{}, error) {
	var b strings.Builder
	for _, a := range args {
		switch v := a.(type) {
		case nil:
			return nil, nil
		case string:
			b.WriteString(v)
		default:
			return nil, evalErrorf(op, "expected a string, got %s", document.TypeOf(v))
		}
	}
	return b.String(), nil
}

func evalCase(fn func(string) string) func(string, []interface{}) (interface{}, error) {
	return func(op string, args []interface{}) (interface{}, error) {
		switch v := args[0].(type) {
		case nil:
			return "", nil
		case string:
			return fn(v), nil
		default:
			return nil, evalErrorf(op, "expected a string, got %s", document.TypeOf(v))
		}
	}
}
