package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// MarshalJSON encodes the document as a JSON object in field order.
// ObjectIDs are written as {"$oid": "<hex>"} and timestamps as
// {"$date": "<RFC3339>"} so ParseJSON can restore them.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case *Document:
		buf.WriteByte('{')
		for i, k := range val.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			buf.Write(key)
			buf.WriteByte(':')
			field, _ := val.Get(k)
			if err := writeJSON(buf, field); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case ObjectID:
		fmt.Fprintf(buf, `{"$oid":%q}`, val.Hex())
	case time.Time:
		fmt.Fprintf(buf, `{"$date":%q}`, val.UTC().Format(time.RFC3339Nano))
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(raw)
	}
	return nil
}

// ParseJSON decodes a JSON object into a Document, preserving key order.
// Integral numbers decode as int64, others as float64.
func ParseJSON(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseJSONValue(dec)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(*Document)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}
	return doc, nil
}

// ParseJSONValue decodes any JSON value with the same conventions as ParseJSON
func ParseJSONValue(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return parseJSONValue(dec)
}

func parseJSONValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			doc := NewDocument()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key := keyTok.(string)
				v, err := parseJSONValue(dec)
				if err != nil {
					return nil, err
				}
				doc.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return unwrapExtended(doc), nil
		case '[':
			arr := make([]interface{}, 0)
			for dec.More() {
				v, err := parseJSONValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := t.Int64(); err == nil {
				return i, nil
			}
		}
		return t.Float64()
	default:
		return t, nil
	}
}

// unwrapExtended turns {"$oid": hex} and {"$date": rfc3339} back into typed values
func unwrapExtended(doc *Document) interface{} {
	if doc.Len() != 1 {
		return doc
	}
	if v, ok := doc.Get("$oid"); ok {
		if s, ok := v.(string); ok {
			if id, err := ObjectIDFromHex(s); err == nil {
				return id
			}
		}
	}
	if v, ok := doc.Get("$date"); ok {
		if s, ok := v.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return ts
			}
		}
	}
	return doc
}
