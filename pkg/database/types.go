package database

import (
	"github.com/mnohosten/shelfdb/pkg/cache"
	"github.com/mnohosten/shelfdb/pkg/index"
	"github.com/mnohosten/shelfdb/pkg/query"
)

// QueryOptions holds options for queries
type QueryOptions struct {
	Projection interface{} // map[string]interface{}, map[string]bool or *document.Document
	Sort       []query.SortField
	Limit      int // 0 means no limit
	Skip       int
}

// IndexOptions holds options for index creation
type IndexOptions struct {
	Name   string // derived from the fields when empty
	Unique bool
}

// IndexInfo describes one index of a collection
type IndexInfo = index.Info

// CollectionStats is a point-in-time summary of a collection
type CollectionStats struct {
	Name      string      `json:"name"`
	Documents int         `json:"documents"`
	Indexes   []IndexInfo `json:"indexes"`

	QueryCache *cache.Stats `json:"queryCache,omitempty"`
}
