package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mnohosten/shelfdb/pkg/compression"
	"github.com/mnohosten/shelfdb/pkg/encryption"
)

// FileStore keeps the latest snapshot in a single compressed file. Saves
// write a temporary file and rename it over the old one, so a crash leaves
// either the old or the new snapshot. An encrypted store seals the
// compressed frame with a passphrase.
type FileStore struct {
	path       string
	compressor *compression.Compressor
	serializer *DocumentSerializer
	sealer     *encryption.Sealer // nil for plain snapshots
	mu         sync.Mutex
	closed     bool
}

// NewFileStore creates a store at path; config defaults to zstd
func NewFileStore(path string, config *compression.Config) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store requires a path")
	}
	compressor, err := compression.NewCompressor(config)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		path:       path,
		compressor: compressor,
		// the whole file is compressed, documents are not
		serializer: NewDocumentSerializer(nil),
	}, nil
}

// NewEncryptedFileStore creates a file store whose snapshots are sealed with
// the passphrase in encConfig
func NewEncryptedFileStore(path string, config *compression.Config, encConfig *encryption.Config) (*FileStore, error) {
	sealer, err := encryption.NewSealer(encConfig)
	if err != nil {
		return nil, err
	}
	s, err := NewFileStore(path, config)
	if err != nil {
		return nil, err
	}
	s.sealer = sealer
	return s, nil
}

// Encrypted reports whether snapshots are sealed
func (s *FileStore) Encrypted() bool {
	return s.sealer != nil
}

// Path returns the snapshot file path
func (s *FileStore) Path() string {
	return s.path
}

// Save replaces the stored snapshot
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := encodeSnapshot(snap, s.serializer)
	if err != nil {
		return err
	}
	raw, err := msgpack.Marshal(img)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	frame, err := s.compressor.Compress(raw)
	if err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if s.sealer != nil {
		if frame, err = s.sealer.Seal(frame); err != nil {
			return fmt.Errorf("failed to encrypt snapshot: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(frame); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	frame, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	switch {
	case s.sealer != nil:
		if frame, err = s.sealer.Open(frame); err != nil {
			return nil, fmt.Errorf("failed to decrypt snapshot: %w", err)
		}
	case encryption.IsSealed(frame):
		return nil, ErrSnapshotEncrypted
	}

	raw, err := s.compressor.Decompress(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	var img snapshotImage
	if err := msgpack.Unmarshal(raw, &img); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return decodeSnapshot(&img, s.serializer)
}

// Close releases the compressor
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.compressor.Close()
}
