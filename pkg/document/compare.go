package document

import (
	"bytes"
	"math"
	"strings"
	"time"
)

// typeRank orders values of different types the way a document database
// orders mixed-type fields: null, numbers, strings, documents, arrays,
// binary, object ids, booleans, timestamps.
func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 1
	case int32, int64, float64:
		return 2
	case string:
		return 3
	case *Document:
		return 4
	case []interface{}:
		return 5
	case []byte:
		return 6
	case ObjectID:
		return 7
	case bool:
		return 8
	case time.Time:
		return 9
	default:
		return 10
	}
}

// ToFloat64 converts a numeric value to float64
func ToFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case int:
		return float64(val), true
	case float32:
		return float64(val), true
	default:
		return 0, false
	}
}

// IsNumber reports whether v is one of the numeric kinds
func IsNumber(v interface{}) bool {
	_, ok := ToFloat64(v)
	return ok
}

// Comparable reports whether two values can be ordered by a range operator:
// both numbers, or both of the same string, timestamp or ObjectID type.
func Comparable(a, b interface{}) bool {
	if IsNumber(a) && IsNumber(b) {
		return true
	}
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case time.Time:
		_, ok := b.(time.Time)
		return ok
	case ObjectID:
		_, ok := b.(ObjectID)
		return ok
	}
	return false
}

// Compare returns -1, 0 or 1 following a total order over all value types.
// Values of different types are ordered by type rank; numbers of different
// kinds compare by numeric value.
func Compare(a, b interface{}) int {
	a, b = Normalize(a), Normalize(b)
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch va := a.(type) {
	case nil:
		return 0
	case int32, int64, float64:
		return compareNumbers(a, b)
	case string:
		return strings.Compare(va, b.(string))
	case *Document:
		return compareDocuments(va, b.(*Document))
	case []interface{}:
		vb := b.([]interface{})
		for i := 0; i < len(va) && i < len(vb); i++ {
			if c := Compare(va[i], vb[i]); c != 0 {
				return c
			}
		}
		return compareInts(len(va), len(vb))
	case []byte:
		return bytes.Compare(va, b.([]byte))
	case ObjectID:
		return va.Compare(b.(ObjectID))
	case bool:
		vb := b.(bool)
		if va == vb {
			return 0
		}
		if !va {
			return -1
		}
		return 1
	case time.Time:
		return va.Compare(b.(time.Time))
	}
	return 0
}

// Equal reports value equality: numbers compare by value across kinds,
// everything else must share a type.
func Equal(a, b interface{}) bool {
	return Compare(a, b) == 0
}

func compareNumbers(a, b interface{}) int {
	// Integers are never widened to float64: above 2^53 that loses
	// precision and breaks transitivity between int and float pairs.
	ia, aInt := asInt64(a)
	ib, bInt := asInt64(b)
	switch {
	case aInt && bInt:
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return 0
	case aInt:
		fb, _ := ToFloat64(b)
		return compareIntFloat(ia, fb)
	case bInt:
		fa, _ := ToFloat64(a)
		return -compareIntFloat(ib, fa)
	}

	fa, _ := ToFloat64(a)
	fb, _ := ToFloat64(b)
	// NaN sorts before every other number
	if math.IsNaN(fa) || math.IsNaN(fb) {
		switch {
		case math.IsNaN(fa) && math.IsNaN(fb):
			return 0
		case math.IsNaN(fa):
			return -1
		}
		return 1
	}
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

// int64 bounds as float64, both exactly representable
const (
	minInt64Float = -(1 << 63)
	maxInt64Float = 1 << 63
)

// compareIntFloat orders an integer against a float without rounding either
func compareIntFloat(i int64, f float64) int {
	switch {
	case math.IsNaN(f):
		return 1
	case f >= maxInt64Float:
		return -1
	case f < minInt64Float:
		return 1
	}
	whole := math.Trunc(f)
	if w := int64(whole); i != w {
		if i < w {
			return -1
		}
		return 1
	}
	switch frac := f - whole; {
	case frac > 0:
		return -1
	case frac < 0:
		return 1
	}
	return 0
}

func asInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int32:
		return int64(val), true
	}
	return 0, false
}

func compareDocuments(a, b *Document) int {
	ka, kb := a.Keys(), b.Keys()
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		va, _ := a.Get(ka[i])
		vb, _ := b.Get(kb[i])
		if c := Compare(va, vb); c != 0 {
			return c
		}
	}
	return compareInts(len(ka), len(kb))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
