package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/encryption"
	"github.com/mnohosten/shelfdb/pkg/index"
)

// SnapshotVersion is written into every persisted snapshot
const SnapshotVersion = 1

var (
	// ErrNoSnapshot is returned by Load when nothing has been saved yet
	ErrNoSnapshot = errors.New("no snapshot")

	// ErrUnsupportedVersion is returned for snapshots written by a newer format
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrStoreClosed is returned when using a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrSnapshotEncrypted is returned when loading a sealed snapshot
	// without a passphrase
	ErrSnapshotEncrypted = errors.New("snapshot is encrypted")
)

// Snapshot is the full persisted state of a database: every collection's
// documents in insertion order plus its secondary index definitions. Index
// contents are not persisted; they are rebuilt on restore.
type Snapshot struct {
	Version     int
	Collections []CollectionSnapshot
}

// CollectionSnapshot is one collection inside a Snapshot
type CollectionSnapshot struct {
	Name      string
	Documents []*document.Document
	Indexes   []IndexSpec
}

// IndexSpec is the definition of a secondary index
type IndexSpec struct {
	Name   string           `msgpack:"name" json:"name"`
	Fields []index.KeyField `msgpack:"fields" json:"fields"`
	Unique bool             `msgpack:"unique" json:"unique"`
}

// Store persists snapshots outside the engine. The engine itself never does
// I/O; a host calls Save and Load around it.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}

// Options tunes the store Open creates
type Options struct {
	// Passphrase seals file snapshots; other kinds reject it
	Passphrase string
}

// Open creates a store by kind: "file", "bolt", "badger" or "memory" (an
// in-memory badger instance, path ignored)
func Open(kind, path string) (Store, error) {
	return OpenWithOptions(kind, path, Options{})
}

// OpenWithOptions is Open with store options
func OpenWithOptions(kind, path string, opts Options) (Store, error) {
	if opts.Passphrase != "" && kind != "file" {
		return nil, fmt.Errorf("encryption is only supported by the file store, not %q", kind)
	}
	switch kind {
	case "file":
		if opts.Passphrase != "" {
			return NewEncryptedFileStore(path, nil, &encryption.Config{Passphrase: opts.Passphrase})
		}
		return NewFileStore(path, nil)
	case "bolt":
		return NewBoltStore(path, nil)
	case "badger":
		if path == "" {
			return nil, fmt.Errorf("badger store requires a path")
		}
		return NewBadgerStore(path, nil)
	case "memory":
		return NewBadgerStore("", nil)
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}
