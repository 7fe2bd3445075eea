package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mnohosten/shelfdb/pkg/compression"
)

const (
	badgerMetaPrefix       = "meta/"
	badgerCollectionPrefix = "coll/"
	badgerVersionKey       = badgerMetaPrefix + "version"
	badgerOrderKey         = badgerMetaPrefix + "collections"
)

// BadgerStore keeps the snapshot in badger under the keys
//
//	meta/version
//	meta/collections             collection names in order
//	coll/<name>/doc/<position>   serialized document
//	coll/<name>/index/<position> msgpack index spec
//
// Collection names are path-escaped and positions zero-padded, so a prefix
// iteration returns entries in their original order.
type BadgerStore struct {
	db         *badger.DB
	compressor *compression.Compressor
	serializer *DocumentSerializer
}

// NewBadgerStore opens or creates a badger directory. An empty path opens an
// in-memory instance. Documents are compressed individually; config
// defaults to snappy.
func NewBadgerStore(path string, config *compression.Config) (*BadgerStore, error) {
	if config == nil {
		config = compression.SnappyConfig()
	}
	compressor, err := compression.NewCompressor(config)
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		compressor.Close()
		return nil, fmt.Errorf("badger: %w", err)
	}
	return &BadgerStore{
		db:         db,
		compressor: compressor,
		serializer: NewDocumentSerializer(compressor),
	}, nil
}

func badgerDocPrefix(collection string) string {
	return badgerCollectionPrefix + url.PathEscape(collection) + "/doc/"
}

func badgerIndexPrefix(collection string) string {
	return badgerCollectionPrefix + url.PathEscape(collection) + "/index/"
}

func positionKey(prefix string, i int) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, i))
}

// Save replaces the stored snapshot. The context is only checked before the
// previous snapshot is cleared.
func (s *BadgerStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := encodeSnapshot(snap, s.serializer)
	if err != nil {
		return err
	}

	if err := s.db.DropPrefix([]byte(badgerCollectionPrefix), []byte(badgerMetaPrefix)); err != nil {
		return fmt.Errorf("failed to clear previous snapshot: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	names := make([]string, 0, len(img.Collections))
	for _, ci := range img.Collections {
		docPrefix := badgerDocPrefix(ci.Name)
		for i, raw := range ci.Documents {
			if err := wb.Set(positionKey(docPrefix, i), raw); err != nil {
				return err
			}
		}
		indexPrefix := badgerIndexPrefix(ci.Name)
		for i, spec := range ci.Indexes {
			raw, err := msgpack.Marshal(spec)
			if err != nil {
				return err
			}
			if err := wb.Set(positionKey(indexPrefix, i), raw); err != nil {
				return err
			}
		}
		names = append(names, ci.Name)
	}

	version, err := msgpack.Marshal(img.Version)
	if err != nil {
		return err
	}
	if err := wb.Set([]byte(badgerVersionKey), version); err != nil {
		return err
	}
	order, err := msgpack.Marshal(names)
	if err != nil {
		return err
	}
	if err := wb.Set([]byte(badgerOrderKey), order); err != nil {
		return err
	}
	return wb.Flush()
}

// Load reads the stored snapshot
func (s *BadgerStore) Load(ctx context.Context) (*Snapshot, error) {
	img := &snapshotImage{}
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getMsgpack(txn, badgerVersionKey, &img.Version); err != nil {
			return err
		}
		var names []string
		if err := getMsgpack(txn, badgerOrderKey, &names); err != nil {
			return err
		}

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			ci := collectionImage{Name: name}
			err := scanPrefix(txn, badgerDocPrefix(name), func(val []byte) error {
				ci.Documents = append(ci.Documents, val)
				return nil
			})
			if err != nil {
				return fmt.Errorf("collection %s: %w", name, err)
			}
			err = scanPrefix(txn, badgerIndexPrefix(name), func(val []byte) error {
				var spec IndexSpec
				if err := msgpack.Unmarshal(val, &spec); err != nil {
					return fmt.Errorf("failed to decode index spec: %w", err)
				}
				ci.Indexes = append(ci.Indexes, spec)
				return nil
			})
			if err != nil {
				return fmt.Errorf("collection %s: %w", name, err)
			}
			img.Collections = append(img.Collections, ci)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(img, s.serializer)
}

func getMsgpack(txn *badger.Txn, key string, out interface{}) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNoSnapshot
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, out)
	})
}

// scanPrefix calls fn with a copy of every value under prefix, in key order
func scanPrefix(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(val); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the badger instance
func (s *BadgerStore) Close() error {
	err := s.db.Close()
	s.compressor.Close()
	return err
}
