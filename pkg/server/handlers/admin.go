package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mnohosten/shelfdb/pkg/metrics"
)

// Health returns a health check handler
func (h *Handlers) Health(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, map[string]interface{}{
			"status":      "healthy",
			"database":    h.db.Name(),
			"collections": len(h.db.ListCollections()),
			"uptime":      time.Since(startTime).String(),
			"time":        time.Now().Format(time.RFC3339),
		})
	}
}

// SlowQueries lists kept slow queries, oldest first. Query parameters:
// collection restricts to one collection, slowest=1 orders by duration,
// limit caps the count (default 50).
func (h *Handlers) SlowQueries(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit := 50
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, &BadRequestError{Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries := []metrics.SlowQueryEntry{}
	if h.slow != nil {
		switch {
		case params.Get("collection") != "":
			entries = h.slow.EntriesByCollection(params.Get("collection"))
			if len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
		case params.Get("slowest") == "1":
			entries = h.slow.TopSlowest(limit)
		default:
			entries = h.slow.RecentEntries(limit)
		}
	}
	if entries == nil {
		entries = []metrics.SlowQueryEntry{}
	}
	writeSuccessWithCount(w, entries, len(entries))
}
