package impex

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mnohosten/shelfdb/pkg/document"
)

// maxLine bounds a single NDJSON record
const maxLine = 16 << 20

// ReadJSON decodes a JSON array of objects. Field order is kept and
// {"$oid"} / {"$date"} wrappers come back as ObjectIDs and timestamps.
func ReadJSON(r io.Reader) ([]*document.Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON: %w", err)
	}
	v, err := document.ParseJSONValue(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a JSON array of documents, got %s", document.TypeOf(v))
	}
	docs := make([]*document.Document, len(items))
	for i, item := range items {
		if docs[i], ok = item.(*document.Document); !ok {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
	}
	return docs, nil
}

// ReadNDJSON decodes one object per line. Blank lines are skipped.
func ReadNDJSON(r io.Reader) ([]*document.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var docs []*document.Document
	for line := 1; scanner.Scan(); line++ {
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		doc, err := document.ParseJSON(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read NDJSON: %w", err)
	}
	return docs, nil
}

// WriteJSON writes docs as one JSON array in field order
func WriteJSON(w io.Writer, docs []*document.Document, pretty bool) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, doc := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		raw, err := doc.MarshalJSON()
		if err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')

	out := buf.Bytes()
	if pretty {
		var indented bytes.Buffer
		if err := json.Indent(&indented, out, "", "  "); err != nil {
			return err
		}
		out = indented.Bytes()
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteNDJSON writes one document per line
func WriteNDJSON(w io.Writer, docs []*document.Document) error {
	bw := bufio.NewWriter(w)
	for i, doc := range docs {
		raw, err := doc.MarshalJSON()
		if err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		bw.Write(raw)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
