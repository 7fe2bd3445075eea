// Package impex moves documents in and out of collections as JSON, NDJSON
// or CSV.
package impex

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mnohosten/shelfdb/pkg/document"
)

// Format is an import/export file format
type Format string

const (
	FormatJSON   Format = "json"   // one JSON array of objects
	FormatNDJSON Format = "ndjson" // one JSON object per line
	FormatCSV    Format = "csv"
)

// ParseFormat resolves a format name, case-insensitively
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case FormatJSON, FormatNDJSON, FormatCSV:
		return f, nil
	case "jsonl":
		return FormatNDJSON, nil
	default:
		return "", fmt.Errorf("unsupported format %q", name)
	}
}

// FormatFromPath guesses the format from a file extension
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer a format from %q", path)
	}
	return ParseFormat(ext)
}

// Options tune a single import or export. The zero value is usable.
type Options struct {
	// Fields are the dot paths written as CSV columns. Empty means every
	// top-level field, in first-seen order with _id first.
	Fields []string
	// Headers replace the first CSV row as column names on import.
	Headers []string
	// Pretty indents JSON array output.
	Pretty bool
}

// Import reads every document from r
func Import(r io.Reader, format Format, opts *Options) ([]*document.Document, error) {
	if opts == nil {
		opts = &Options{}
	}
	switch format {
	case FormatJSON:
		return ReadJSON(r)
	case FormatNDJSON:
		return ReadNDJSON(r)
	case FormatCSV:
		return ReadCSV(r, opts.Headers)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
}

// Export writes docs to w
func Export(w io.Writer, docs []*document.Document, format Format, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	switch format {
	case FormatJSON:
		return WriteJSON(w, docs, opts.Pretty)
	case FormatNDJSON:
		return WriteNDJSON(w, docs)
	case FormatCSV:
		return WriteCSV(w, docs, opts.Fields)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
