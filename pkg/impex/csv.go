package impex

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/shelfdb/pkg/document"
)

// WriteCSV writes a header row and one row per document. Columns are dot
// paths; a missing or null value is an empty cell and nested values are
// written as JSON.
func WriteCSV(w io.Writer, docs []*document.Document, fields []string) error {
	if len(fields) == 0 {
		fields = discoverFields(docs)
	}
	if len(fields) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(fields); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	row := make([]string, len(fields))
	for i, doc := range docs {
		for j, field := range fields {
			v, _ := doc.GetPath(field)
			cell, err := formatCell(v)
			if err != nil {
				return fmt.Errorf("document %d field %s: %w", i, field, err)
			}
			row[j] = cell
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// discoverFields lists top-level keys in first-seen order, _id first
func discoverFields(docs []*document.Document) []string {
	seen := make(map[string]bool)
	var fields []string
	hasID := false
	for _, doc := range docs {
		for _, k := range doc.Keys() {
			if seen[k] {
				continue
			}
			seen[k] = true
			if k == document.IDField {
				hasID = true
				continue
			}
			fields = append(fields, k)
		}
	}
	if hasID {
		fields = append([]string{document.IDField}, fields...)
	}
	return fields
}

func formatCell(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case document.ObjectID:
		return val.Hex(), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	default:
		var buf bytes.Buffer
		if err := writeValue(&buf, val); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
}

// writeValue encodes a nested value with the document JSON conventions
func writeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case *document.Document:
		raw, err := val.MarshalJSON()
		if err != nil {
			return err
		}
		buf.Write(raw)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case document.ObjectID:
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

// ReadCSV turns each row into a document. Column names come from headers or,
// when headers is empty, from the first row; dotted names build nested
// documents. Empty cells are left out. Cell types are inferred.
func ReadCSV(r io.Reader, headers []string) ([]*document.Document, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	if len(headers) == 0 {
		var err error
		headers, err = cr.Read()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV header: %w", err)
		}
	}
	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			return nil, fmt.Errorf("CSV column %d has no name", i+1)
		}
	}

	var docs []*document.Document
	for rowNum := 1; ; rowNum++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", rowNum, err)
		}
		if len(row) > len(headers) {
			return nil, fmt.Errorf("CSV row %d has %d cells for %d columns", rowNum, len(row), len(headers))
		}

		doc := document.NewDocument()
		for i, cell := range row {
			if cell == "" {
				continue
			}
			doc.SetPath(headers[i], parseCell(cell))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// parseCell infers a value: bool, integer, ObjectID, float, RFC3339 time,
// JSON array or object, then string
func parseCell(cell string) interface{} {
	if cell == "true" || cell == "false" {
		return cell == "true"
	}
	if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return n
	}
	if len(cell) == 24 {
		if oid, err := document.ObjectIDFromHex(cell); err == nil {
			return oid
		}
	}
	if strings.ContainsAny(cell, "0123456789") {
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			return f
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, cell); err == nil {
		return t
	}
	if strings.HasPrefix(cell, "[") || strings.HasPrefix(cell, "{") {
		if v, err := document.ParseJSONValue([]byte(cell)); err == nil {
			return v
		}
	}
	return cell
}
