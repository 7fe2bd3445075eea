package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListIndexes lists a collection's indexes, _id first
func (h *Handlers) ListIndexes(w http.ResponseWriter, r *http.Request) {
	collectionName := chi.URLParam(r, "collection")
	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	indexes := coll.ListIndexes()
	result := map[string]interface{}{
		"collection": collectionName,
		"indexes":    indexes,
	}
	writeSuccessWithCount(w, result, len(indexes))
}
