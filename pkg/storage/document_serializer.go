package storage

import (
	"fmt"

	"github.com/mnohosten/shelfdb/pkg/compression"
	"github.com/mnohosten/shelfdb/pkg/document"
)

// MaxDocumentSize is the maximum encoded size of a document (16MB)
const MaxDocumentSize = 16 * 1024 * 1024

// DocumentSerializer turns documents into compressed, type-preserving byte
// strings and back
type DocumentSerializer struct {
	compressor *compression.Compressor
}

// NewDocumentSerializer creates a serializer; compressor may be nil for
// uncompressed output
func NewDocumentSerializer(compressor *compression.Compressor) *DocumentSerializer {
	return &DocumentSerializer{compressor: compressor}
}

// SerializeDocument encodes a document
func (ds *DocumentSerializer) SerializeDocument(doc *document.Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("cannot serialize nil document")
	}

	data, err := document.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("document size %d exceeds maximum %d bytes", len(data), MaxDocumentSize)
	}

	if ds.compressor == nil {
		return data, nil
	}
	return ds.compressor.Compress(data)
}

// DeserializeDocument decodes a document written by SerializeDocument with
// the same compression setting (nil or not)
func (ds *DocumentSerializer) DeserializeDocument(data []byte) (*document.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot deserialize empty data")
	}

	if ds.compressor != nil {
		var err error
		data, err = ds.compressor.Decompress(data)
		if err != nil {
			return nil, err
		}
	}

	doc, err := document.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
