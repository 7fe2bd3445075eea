package query

import (
	"strings"

	"github.com/mnohosten/shelfdb/pkg/document"
)

// Projection is a compiled projection descriptor
type Projection struct {
	fields    []string
	inclusion bool
	excludeID bool
}

// CompileProjection validates a projection descriptor ({field: 1|0|true|false}).
// Inclusion and exclusion may not be mixed, except that _id may be excluded
// from an inclusion projection. A nil or empty descriptor returns nil.
func CompileProjection(spec interface{}) (*Projection, error) {
	if spec == nil {
		return nil, nil
	}
	var doc *document.Document
	switch s := spec.(type) {
	case map[string]bool:
		doc = document.NewDocument()
		for k, v := range s {
			doc.Set(k, v)
		}
	default:
		var ok bool
		doc, ok = asDocument(spec)
		if !ok {
			return nil, NewValidationError("projection", "expected a document, got %T", spec)
		}
	}
	if doc.Len() == 0 {
		return nil, nil
	}

	p := &Projection{}
	sawInclude, sawExclude := false, false
	for _, field := range doc.Keys() {
		if field == "" || strings.HasPrefix(field, "$") {
			return nil, NewValidationError("projection", "invalid field %q", field)
		}
		v, _ := doc.Get(field)
		include, err := projectionFlag(field, v)
		if err != nil {
			return nil, err
		}
		if field == document.IDField {
			p.excludeID = !include
			continue
		}
		if include {
			sawInclude = true
		} else {
			sawExclude = true
		}
		p.fields = append(p.fields, field)
	}
	if sawInclude && sawExclude {
		return nil, NewValidationError("projection", "cannot mix inclusion and exclusion")
	}
	// {_id: 0} alone is an exclusion projection, {_id: 1} alone keeps only _id
	p.inclusion = sawInclude || (!sawExclude && !p.excludeID)
	return p, nil
}

func projectionFlag(field string, v interface{}) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	default:
		n, ok := document.ToFloat64(v)
		if !ok {
			return false, NewValidationError("projection", "value for %q must be 0, 1, true or false", field)
		}
		return n != 0, nil
	}
}

// IsInclusion reports whether the projection lists the fields to keep
func (p *Projection) IsInclusion() bool {
	return p.inclusion
}

// Apply returns a new document shaped by the projection
func (p *Projection) Apply(doc *document.Document) *document.Document {
	if p == nil {
		return doc.Clone()
	}

	if !p.inclusion {
		result := doc.Clone()
		for _, field := range p.fields {
			result.DeletePath(field)
		}
		if p.excludeID {
			result.Delete(document.IDField)
		}
		return result
	}

	result := includePaths(doc, p.fields)
	if p.excludeID {
		result.Delete(document.IDField)
	} else if id, ok := doc.Get(document.IDField); ok && !result.Has(document.IDField) {
		withID := document.NewDocument()
		withID.Set(document.IDField, id)
		for _, k := range result.Keys() {
			v, _ := result.Get(k)
			withID.Set(k, v)
		}
		result = withID
	}
	return result.Clone()
}

// includePaths keeps the listed dot paths, preserving the document's own
// field order
func includePaths(doc *document.Document, paths []string) *document.Document {
	result := document.NewDocument()
	for _, key := range doc.Keys() {
		var nested []string
		whole := false
		for _, path := range paths {
			if path == key {
				whole = true
				break
			}
			if strings.HasPrefix(path, key+".") {
				nested = append(nested, strings.TrimPrefix(path, key+"."))
			}
		}
		v, _ := doc.Get(key)
		if whole {
			result.Set(key, v)
			continue
		}
		if sub, ok := v.(*document.Document); ok && len(nested) > 0 {
			result.Set(key, includePaths(sub, nested))
		}
	}
	return result
}
