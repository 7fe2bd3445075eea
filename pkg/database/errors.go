package database

import "errors"

var (
	// ErrDocumentNotFound is returned when an update or lookup names an
	// identity the collection does not hold
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNotFound is an alias of ErrDocumentNotFound
	ErrNotFound = ErrDocumentNotFound

	// ErrDuplicateID is returned when inserting a document whose _id is taken
	ErrDuplicateID = errors.New("duplicate _id")

	// ErrCollectionNotFound is returned when a collection is not found
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDatabaseClosed is returned when operating on a closed database
	ErrDatabaseClosed = errors.New("database is closed")
)
