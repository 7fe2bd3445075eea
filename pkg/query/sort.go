package query

import (
	"sort"

	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/index"
)

// SortField represents a field to sort by
type SortField struct {
	Field     string
	Ascending bool
}

// Asc and Desc are shorthands for building sort descriptors
func Asc(field string) SortField  { return SortField{Field: field, Ascending: true} }
func Desc(field string) SortField { return SortField{Field: field, Ascending: false} }

// ParseSort converts a sort descriptor into sort fields. Accepted forms are
// []SortField, an ordered *document.Document such as {price: -1, title: 1},
// a single-key map, or a list of single-key maps or documents. Multi-key maps
// are rejected because Go maps carry no order.
func ParseSort(spec interface{}) ([]SortField, error) {
	var doc *document.Document
	switch s := spec.(type) {
	case nil:
		return nil, nil
	case []SortField:
		for _, f := range s {
			if f.Field == "" {
				return nil, NewValidationError("sort", "empty field name")
			}
		}
		return s, nil
	case *document.Document:
		doc = s
	case map[string]interface{}:
		if len(s) > 1 {
			return nil, NewValidationError("sort", "multi-field sort requires an ordered document")
		}
		doc = document.NewDocumentFromMap(s)
	case []interface{}:
		doc = document.NewDocument()
		for _, item := range s {
			part, ok := document.Normalize(item).(*document.Document)
			if !ok || part.Len() != 1 {
				return nil, NewValidationError("sort", "list entries must be single-key documents")
			}
			field := part.Keys()[0]
			if doc.Has(field) {
				return nil, NewValidationError("sort", "field %q listed twice", field)
			}
			v, _ := part.Get(field)
			doc.Set(field, v)
		}
	default:
		return nil, NewValidationError("sort", "expected a document, got %T", spec)
	}

	if doc.Len() == 0 {
		return nil, NewValidationError("sort", "sort specification is empty")
	}
	fields := make([]SortField, 0, doc.Len())
	for _, field := range doc.Keys() {
		v, _ := doc.Get(field)
		n, ok := document.ToFloat64(v)
		if !ok || (n != 1 && n != -1) {
			return nil, NewValidationError("sort", "direction for %q must be 1 or -1", field)
		}
		fields = append(fields, SortField{Field: field, Ascending: n > 0})
	}
	return fields, nil
}

// SortDocuments sorts docs in place by the given fields. The sort is stable,
// so documents equal on every key keep their relative order. Absent fields
// sort as null.
func SortDocuments(docs []*document.Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return compareDocs(docs[i], docs[j], fields) < 0
	})
}

func compareDocs(a, b *document.Document, fields []SortField) int {
	for _, f := range fields {
		va, _ := a.GetPath(f.Field)
		vb, _ := b.GetPath(f.Field)
		c := document.Compare(va, vb)
		if c == 0 {
			continue
		}
		if !f.Ascending {
			return -c
		}
		return c
	}
	return 0
}

// keyFields converts sort fields to the index key representation
func keyFields(fields []SortField) []index.KeyField {
	keys := make([]index.KeyField, len(fields))
	for i, f := range fields {
		dir := index.Ascending
		if !f.Ascending {
			dir = index.Descending
		}
		keys[i] = index.KeyField{Path: f.Field, Direction: dir}
	}
	return keys
}
