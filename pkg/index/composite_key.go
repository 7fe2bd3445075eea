package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mnohosten/shelfdb/pkg/document"
)

// Direction is the declared ordering of one index field
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// KeyField is one (path, direction) pair of an index key
type KeyField struct {
	Path      string    `json:"path" msgpack:"path"`
	Direction Direction `json:"direction" msgpack:"direction"`
}

// CompositeKey is the tuple of field values a document contributes to an
// index, one value per declared field. Missing fields are stored as null.
type CompositeKey struct {
	Values []interface{}
}

// ExtractKey builds the composite key of a document for the given fields
func ExtractKey(doc *document.Document, fields []KeyField) CompositeKey {
	values := make([]interface{}, len(fields))
	for i, f := range fields {
		if v, ok := doc.GetPath(f.Path); ok {
			values[i] = v
		}
	}
	return CompositeKey{Values: values}
}

// Compare compares two composite keys field by field, honoring each field's
// direction. Only the shorter key's length is compared, so a prefix compares
// equal to every key it is a prefix of.
func (ck CompositeKey) Compare(other CompositeKey, fields []KeyField) int {
	n := len(ck.Values)
	if len(other.Values) < n {
		n = len(other.Values)
	}
	for i := 0; i < n; i++ {
		c := document.Compare(ck.Values[i], other.Values[i])
		if c != 0 {
			if fields[i].Direction == Descending {
				return -c
			}
			return c
		}
	}
	return 0
}

// MatchesPrefix checks if the first len(prefix) values of this key equal the prefix
func (ck CompositeKey) MatchesPrefix(prefix []interface{}) bool {
	if len(prefix) > len(ck.Values) {
		return false
	}
	for i, v := range prefix {
		if !document.Equal(ck.Values[i], v) {
			return false
		}
	}
	return true
}

func (ck CompositeKey) String() string {
	return fmt.Sprintf("%v", ck.Values)
}

// Name derives the default index name, e.g. author_1_published_year_-1
func Name(fields []KeyField) string {
	parts := make([]string, 0, len(fields)*2)
	for _, f := range fields {
		parts = append(parts, f.Path, strconv.Itoa(int(f.Direction)))
	}
	return strings.Join(parts, "_")
}

// ParseKeySpec converts a key descriptor such as {author: 1, published_year: -1}
// into key fields. Multi-field descriptors must be ordered documents; a Go
// map only carries order when it has a single key.
func ParseKeySpec(spec interface{}) ([]KeyField, error) {
	var doc *document.Document
	switch s := spec.(type) {
	case []KeyField:
		return s, validateFields(s)
	case *document.Document:
		doc = s
	case map[string]interface{}:
		if len(s) > 1 {
			return nil, fmt.Errorf("%w: compound key spec must be an ordered document", ErrInvalidKeySpec)
		}
		doc = document.NewDocumentFromMap(s)
	default:
		return nil, fmt.Errorf("%w: unsupported key spec %T", ErrInvalidKeySpec, spec)
	}

	fields := make([]KeyField, 0, doc.Len())
	for _, path := range doc.Keys() {
		v, _ := doc.Get(path)
		n, ok := document.ToFloat64(v)
		if !ok || (n != 1 && n != -1) {
			return nil, fmt.Errorf("%w: direction for %q must be 1 or -1", ErrInvalidKeySpec, path)
		}
		fields = append(fields, KeyField{Path: path, Direction: Direction(int(n))})
	}
	return fields, validateFields(fields)
}

func validateFields(fields []KeyField) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: index must have at least one field", ErrInvalidKeySpec)
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Path == "" || strings.HasPrefix(f.Path, "$") || strings.HasPrefix(f.Path, ".") || strings.HasSuffix(f.Path, ".") {
			return fmt.Errorf("%w: invalid field path %q", ErrInvalidKeySpec, f.Path)
		}
		if f.Direction != Ascending && f.Direction != Descending {
			return fmt.Errorf("%w: direction for %q must be 1 or -1", ErrInvalidKeySpec, f.Path)
		}
		if seen[f.Path] {
			return fmt.Errorf("%w: field %q appears twice", ErrInvalidKeySpec, f.Path)
		}
		seen[f.Path] = true
	}
	return nil
}

func sameFields(a, b []KeyField) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
