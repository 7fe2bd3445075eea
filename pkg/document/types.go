package document

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Type represents the data type of a value
type Type byte

const (
	TypeFloat64   Type = 0x01
	TypeString    Type = 0x02
	TypeDocument  Type = 0x03
	TypeArray     Type = 0x04
	TypeBinary    Type = 0x05
	TypeObjectID  Type = 0x07
	TypeBoolean   Type = 0x08
	TypeNull      Type = 0x0A
	TypeInt32     Type = 0x10
	TypeTimestamp Type = 0x11
	TypeInt64     Type = 0x12
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeObjectID:
		return "objectid"
	case TypeArray:
		return "array"
	case TypeDocument:
		return "document"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether the type is one of the number types
func (t Type) IsNumeric() bool {
	return t == TypeInt32 || t == TypeInt64 || t == TypeFloat64
}

// Value represents a typed value in a document
type Value struct {
	Type Type
	Data interface{}
}

// NewValue creates a new typed value. Data is normalized so the rest of the
// engine sees a closed set of Go types: ints become int64, float32 becomes
// float64, maps become *Document and typed slices become []interface{}.
func NewValue(data interface{}) *Value {
	data = Normalize(data)
	return &Value{Type: TypeOf(data), Data: data}
}

// TypeOf returns the type tag of a normalized value
func TypeOf(data interface{}) Type {
	switch data.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case int32:
		return TypeInt32
	case int64:
		return TypeInt64
	case float64:
		return TypeFloat64
	case string:
		return TypeString
	case []byte:
		return TypeBinary
	case ObjectID:
		return TypeObjectID
	case time.Time:
		return TypeTimestamp
	case []interface{}:
		return TypeArray
	case *Document:
		return TypeDocument
	default:
		return TypeNull
	}
}

// ErrUnsupportedValue is returned by Convert for Go values that have no
// document representation
var ErrUnsupportedValue = errors.New("unsupported value")

// Normalize converts a Go value into the engine's canonical representation.
// Values Convert rejects normalize to nil.
func Normalize(data interface{}) interface{} {
	v, err := Convert(data)
	if err != nil {
		return nil
	}
	return v
}

// Convert converts a Go value into the engine's canonical representation.
// Any slice or array becomes []interface{} and any map keyed by strings
// becomes a *Document. Unsigned integers above math.MaxInt64 and values
// with no document form, such as structs, channels and funcs, are rejected.
func Convert(data interface{}) (interface{}, error) {
	switch v := data.(type) {
	case nil, bool, int32, int64, float64, string, []byte, ObjectID, time.Time:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int32(v), nil
	case int16:
		return int32(v), nil
	case uint8:
		return int32(v), nil
	case uint16:
		return int32(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		return convertUint(uint64(v))
	case uint64:
		return convertUint(v)
	case float32:
		return float64(v), nil
	case *Document:
		return v, nil
	case Document:
		return &v, nil
	case map[string]interface{}:
		return FromMap(v)
	case []interface{}:
		arr := make([]interface{}, len(v))
		for i, item := range v {
			converted, err := Convert(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	}
	return convertReflect(reflect.ValueOf(data))
}

func convertUint(v uint64) (interface{}, error) {
	if v > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, v)
	}
	return int64(v), nil
}

// convertReflect handles named types and typed containers the fast path in
// Convert does not list
func convertReflect(rv reflect.Value) (interface{}, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return int32(rv.Int()), nil
	case reflect.Int, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint8, reflect.Uint16:
		return int32(rv.Uint()), nil
	case reflect.Uint, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return convertUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Convert(rv.Elem().Interface())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), rv.Bytes()...), nil
		}
		fallthrough
	case reflect.Array:
		arr := make([]interface{}, rv.Len())
		for i := range arr {
			converted, err := Convert(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map keyed by %s", ErrUnsupportedValue, rv.Type().Key())
		}
		m := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return FromMap(m)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
}
