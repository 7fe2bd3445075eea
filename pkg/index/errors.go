package index

import "errors"

var (
	// ErrDuplicateKey is returned when a write would put two documents under
	// the same key of a unique index
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrIndexNotFound is returned when dropping or fetching an unknown index
	ErrIndexNotFound = errors.New("index not found")

	// ErrInvalidKeySpec is returned for malformed index key descriptors
	ErrInvalidKeySpec = errors.New("invalid index key spec")

	// ErrIndexConflict is returned when an index with the same name or the
	// same key but different options already exists
	ErrIndexConflict = errors.New("index conflict")
)
