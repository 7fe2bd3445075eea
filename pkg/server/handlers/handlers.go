package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mnohosten/shelfdb/pkg/database"
	"github.com/mnohosten/shelfdb/pkg/metrics"
)

// Handlers serves read-only views of a database
type Handlers struct {
	db   *database.Database
	slow *metrics.SlowQueryLog
}

// New creates a new Handlers instance. slow may be nil.
func New(db *database.Database, slow *metrics.SlowQueryLog) *Handlers {
	return &Handlers{db: db, slow: slow}
}

// getCollection looks up an existing collection without creating it
func (h *Handlers) getCollection(name string) (*database.Collection, error) {
	if name == "" {
		return nil, &BadRequestError{Message: "collection name is required"}
	}
	return h.db.GetCollection(name)
}

// BadRequestError reports a malformed request
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// writeError maps err to a status code and writes the error envelope
func writeError(w http.ResponseWriter, err error) {
	var (
		statusCode int
		errorType  string
		badRequest *BadRequestError
	)
	switch {
	case errors.As(err, &badRequest):
		statusCode, errorType = http.StatusBadRequest, "BadRequest"
	case errors.Is(err, database.ErrCollectionNotFound):
		statusCode, errorType = http.StatusNotFound, "CollectionNotFound"
	case errors.Is(err, database.ErrDatabaseClosed):
		statusCode, errorType = http.StatusServiceUnavailable, "DatabaseClosed"
	default:
		statusCode, errorType = http.StatusInternalServerError, "InternalError"
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": err.Error(),
		"code":    statusCode,
	})
}

// writeSuccess writes the {"ok": true, "result": ...} envelope
func writeSuccess(w http.ResponseWriter, result interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
	})
}

// writeSuccessWithCount writes a success envelope with an item count
func writeSuccessWithCount(w http.ResponseWriter, result interface{}, count int) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
		"count":  count,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
