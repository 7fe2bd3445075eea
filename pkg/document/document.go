package document

import (
	"fmt"
	"sort"
	"strings"
)

// IDField is the name of the identity field every stored document carries
const IDField = "_id"

// Document is an ordered set of fields, the record type every other package
// operates on
type Document struct {
	fields map[string]*Value
	order  []string // Maintain insertion order
}

// NewDocument creates a new empty document
func NewDocument() *Document {
	return &Document{
		fields: make(map[string]*Value),
		order:  make([]string, 0),
	}
}

// NewDocumentFromMap creates a document from a map. Go maps carry no order,
// so keys are added in sorted order with _id first. Values Convert rejects
// are stored as null; use FromMap to get an error instead.
func NewDocumentFromMap(m map[string]interface{}) *Document {
	doc := NewDocument()
	for _, k := range mapKeys(m) {
		doc.Set(k, m[k])
	}
	return doc
}

// FromMap creates a document from a map like NewDocumentFromMap, but fails
// on the first value that has no document representation
func FromMap(m map[string]interface{}) (*Document, error) {
	doc := NewDocument()
	for _, k := range mapKeys(m) {
		v, err := Convert(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		doc.order = append(doc.order, k)
		doc.fields[k] = &Value{Type: TypeOf(v), Data: v}
	}
	return doc, nil
}

func mapKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != IDField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := m[IDField]; ok {
		keys = append([]string{IDField}, keys...)
	}
	return keys
}

// Set sets a field value in the document
func (d *Document) Set(key string, value interface{}) {
	if _, exists := d.fields[key]; !exists {
		d.order = append(d.order, key)
	}
	d.fields[key] = NewValue(value)
}

// Get retrieves a top-level field value from the document
func (d *Document) Get(key string) (interface{}, bool) {
	if v, ok := d.fields[key]; ok {
		return v.Data, true
	}
	return nil, false
}

// GetValue retrieves a typed value from the document
func (d *Document) GetValue(key string) (*Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Has checks if a field exists in the document
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Delete removes a field from the document
func (d *Document) Delete(key string) {
	if _, ok := d.fields[key]; !ok {
		return
	}

	delete(d.fields, key)

	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns all field names in insertion order
func (d *Document) Keys() []string {
	return d.order
}

// Len returns the number of fields in the document
func (d *Document) Len() int {
	return len(d.fields)
}

// ID returns the identity field, if present
func (d *Document) ID() (interface{}, bool) {
	return d.Get(IDField)
}

// GetPath resolves a dot-separated path through nested documents. The second
// result is false when any segment is missing or an intermediate value is not
// a document; a present null yields (nil, true).
func (d *Document) GetPath(path string) (interface{}, bool) {
	if !strings.Contains(path, ".") {
		return d.Get(path)
	}

	current := d
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		v, ok := current.Get(seg)
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return v, true
		}
		next, ok := v.(*Document)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// SetPath sets a value at a dot-separated path, creating intermediate
// documents as needed. A non-document intermediate is overwritten.
func (d *Document) SetPath(path string, value interface{}) {
	segments := strings.Split(path, ".")
	current := d
	for _, seg := range segments[:len(segments)-1] {
		v, ok := current.Get(seg)
		next, isDoc := v.(*Document)
		if !ok || !isDoc {
			next = NewDocument()
			current.Set(seg, next)
		}
		current = next
	}
	current.Set(segments[len(segments)-1], value)
}

// DeletePath removes the field at a dot-separated path if it exists
func (d *Document) DeletePath(path string) {
	segments := strings.Split(path, ".")
	current := d
	for _, seg := range segments[:len(segments)-1] {
		v, ok := current.Get(seg)
		next, isDoc := v.(*Document)
		if !ok || !isDoc {
			return
		}
		current = next
	}
	current.Delete(segments[len(segments)-1])
}

// ToMap converts the document to a map[string]interface{}
func (d *Document) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.fields))
	for k, v := range d.fields {
		m[k] = toPlain(v.Data)
	}
	return m
}

// toPlain converts nested documents back to maps recursively
func toPlain(v interface{}) interface{} {
	switch val := v.(type) {
	case *Document:
		return val.ToMap()
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = toPlain(item)
		}
		return result
	}
	return v
}

// Clone creates a deep copy of the document
func (d *Document) Clone() *Document {
	clone := &Document{
		fields: make(map[string]*Value, len(d.fields)),
		order:  make([]string, len(d.order)),
	}
	copy(clone.order, d.order)
	for k, v := range d.fields {
		clone.fields[k] = &Value{Type: v.Type, Data: cloneData(v.Data)}
	}
	return clone
}

// cloneData creates a deep copy of a normalized value
func cloneData(v interface{}) interface{} {
	switch val := v.(type) {
	case *Document:
		return val.Clone()
	case []interface{}:
		clone := make([]interface{}, len(val))
		for i, item := range val {
			clone[i] = cloneData(item)
		}
		return clone
	case []byte:
		clone := make([]byte, len(val))
		copy(clone, val)
		return clone
	}
	return v
}

// Equal reports whether two documents hold the same fields in the same order
// with equal values
func (d *Document) Equal(other *Document) bool {
	if other == nil || d.Len() != other.Len() {
		return false
	}
	for i, k := range d.order {
		if other.order[i] != k {
			return false
		}
		if !Equal(d.fields[k].Data, other.fields[k].Data) {
			return false
		}
	}
	return true
}

// String returns a string representation of the document
func (d *Document) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range d.order {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, d.fields[k].Data)
	}
	b.WriteByte('}')
	return b.String()
}
