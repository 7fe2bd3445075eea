package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/mnohosten/shelfdb/pkg/compression"
)

var (
	boltMetaBucket        = []byte("meta")
	boltCollectionsBucket = []byte("collections")
	boltDocsBucket        = []byte("docs")
	boltIndexesBucket     = []byte("indexes")
	boltVersionKey        = []byte("version")
	boltOrderKey          = []byte("order")
)

// BoltStore keeps the snapshot in a bbolt file. Each collection gets its own
// bucket holding its documents (keyed by position) and its index specs; a
// save rewrites everything in a single transaction.
type BoltStore struct {
	db         *bbolt.DB
	compressor *compression.Compressor
	serializer *DocumentSerializer
}

// NewBoltStore opens or creates the bbolt file at path. Documents are
// compressed individually; config defaults to snappy.
func NewBoltStore(path string, config *compression.Config) (*BoltStore, error) {
	if config == nil {
		config = compression.SnappyConfig()
	}
	compressor, err := compression.NewCompressor(config)
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		compressor.Close()
		return nil, fmt.Errorf("bolt: %w", err)
	}
	return &BoltStore{
		db:         db,
		compressor: compressor,
		serializer: NewDocumentSerializer(compressor),
	}, nil
}

func ordinalKey(i int) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(i))
	return k[:]
}

// Save replaces the stored snapshot
func (s *BoltStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := encodeSnapshot(snap, s.serializer)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(boltCollectionsBucket) != nil {
			if err := tx.DeleteBucket(boltCollectionsBucket); err != nil {
				return err
			}
		}
		root, err := tx.CreateBucket(boltCollectionsBucket)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(img.Collections))
		for _, ci := range img.Collections {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := putBoltCollection(root, ci); err != nil {
				return fmt.Errorf("collection %s: %w", ci.Name, err)
			}
			names = append(names, ci.Name)
		}

		meta, err := tx.CreateBucketIfNotExists(boltMetaBucket)
		if err != nil {
			return err
		}
		version, err := msgpack.Marshal(img.Version)
		if err != nil {
			return err
		}
		if err := meta.Put(boltVersionKey, version); err != nil {
			return err
		}
		order, err := msgpack.Marshal(names)
		if err != nil {
			return err
		}
		return meta.Put(boltOrderKey, order)
	})
}

func putBoltCollection(root *bbolt.Bucket, ci collectionImage) error {
	cb, err := root.CreateBucket([]byte(ci.Name))
	if err != nil {
		return err
	}
	docs, err := cb.CreateBucket(boltDocsBucket)
	if err != nil {
		return err
	}
	for i, raw := range ci.Documents {
		if err := docs.Put(ordinalKey(i), raw); err != nil {
			return err
		}
	}
	specs, err := cb.CreateBucket(boltIndexesBucket)
	if err != nil {
		return err
	}
	for i, spec := range ci.Indexes {
		raw, err := msgpack.Marshal(spec)
		if err != nil {
			return err
		}
		if err := specs.Put(ordinalKey(i), raw); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the stored snapshot
func (s *BoltStore) Load(ctx context.Context) (*Snapshot, error) {
	img := &snapshotImage{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(boltMetaBucket)
		root := tx.Bucket(boltCollectionsBucket)
		if meta == nil || root == nil {
			return ErrNoSnapshot
		}
		if err := msgpack.Unmarshal(meta.Get(boltVersionKey), &img.Version); err != nil {
			return fmt.Errorf("failed to decode snapshot version: %w", err)
		}
		var names []string
		if err := msgpack.Unmarshal(meta.Get(boltOrderKey), &names); err != nil {
			return fmt.Errorf("failed to decode collection order: %w", err)
		}

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			cb := root.Bucket([]byte(name))
			if cb == nil {
				return fmt.Errorf("collection %s is listed but missing", name)
			}
			ci, err := readBoltCollection(name, cb)
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

func readBoltCollection(name string, cb *bbolt.Bucket) (collectionImage, error) {
	ci := collectionImage{Name: name}
	if docs := cb.Bucket(boltDocsBucket); docs != nil {
		err := docs.ForEach(func(_, v []byte) error {
			// values are only valid for the life of the transaction
			raw := make([]byte, len(v))
			copy(raw, v)
			ci.Documents = append(ci.Documents, raw)
			return nil
		})
		if err != nil {
			return ci, err
		}
	}
	if specs := cb.Bucket(boltIndexesBucket); specs != nil {
		err := specs.ForEach(func(_, v []byte) error {
			var spec IndexSpec
			if err := msgpack.Unmarshal(v, &spec); err != nil {
				return fmt.Errorf("failed to decode index spec: %w", err)
			}
			ci.Indexes = append(ci.Indexes, spec)
			return nil
		})
		if err != nil {
			return ci, err
		}
	}
	return ci, nil
}

// Close closes the bbolt file
func (s *BoltStore) Close() error {
	err := s.db.Close()
	s.compressor.Close()
	return err
}
