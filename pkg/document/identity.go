package document

import (
	"math"
	"strconv"
)

// IDKey maps an _id value to the string used to key it internally. Only
// ObjectIDs, strings and numbers are valid identities; numbers that compare
// equal map to the same key.
func IDKey(id interface{}) (string, bool) {
	switch v := Normalize(id).(type) {
	case ObjectID:
		return "o" + v.Hex(), true
	case string:
		return "s" + v, true
	case int32:
		return "n" + strconv.FormatInt(int64(v), 10), true
	case int64:
		return "n" + strconv.FormatInt(v, 10), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		if v == math.Trunc(v) && v >= minInt64Float && v < maxInt64Float {
			return "n" + strconv.FormatInt(int64(v), 10), true
		}
		return "n" + strconv.FormatFloat(v, 'g', -1, 64), true
	default:
		return "", false
	}
}
