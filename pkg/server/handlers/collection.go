package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListCollections returns the collection names with their document counts
func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	stats := h.db.Stats()
	collections := make([]map[string]interface{}, 0, len(stats))
	for _, s := range stats {
		collections = append(collections, map[string]interface{}{
			"name":      s.Name,
			"documents": s.Documents,
		})
	}
	writeSuccessWithCount(w, collections, len(collections))
}

// GetCollectionStats returns statistics for a specific collection
func (h *Handlers) GetCollectionStats(w http.ResponseWriter, r *http.Request) {
	coll, err := h.getCollection(chi.URLParam(r, "collection"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, coll.Stats())
}
