package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mnohosten/shelfdb/pkg/metrics"
	"github.com/mnohosten/shelfdb/pkg/storage"
)

// Database is a named set of collections
type Database struct {
	config      *Config
	collections map[string]*Collection
	logger      *slog.Logger
	mu          sync.RWMutex
	isOpen      bool
}

// Config holds database configuration
type Config struct {
	Name         string
	Logger       *slog.Logger          // defaults to discarding everything
	Metrics      *metrics.Collector    // optional
	SlowQueryLog *metrics.SlowQueryLog // optional

	// QueryCacheSize is the number of find results each collection keeps;
	// 0 disables the cache. QueryCacheTTL of 0 means no expiry.
	QueryCacheSize int
	QueryCacheTTL  time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{Name: "default"}
}

// Open creates a database. Nothing is read from disk; use Load to restore a
// saved snapshot.
func Open(config *Config) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.Logger = cfg.Logger.With("db", cfg.Name)

	return &Database{
		config:      &cfg,
		collections: make(map[string]*Collection),
		logger:      cfg.Logger,
		isOpen:      true,
	}, nil
}

// Name returns the database name
func (db *Database) Name() string {
	return db.config.Name
}

// Collection returns a collection, creating it if it doesn't exist. It
// returns nil once the database is closed.
func (db *Database) Collection(name string) *Collection {
	db.mu.RLock()
	coll, exists := db.collections[name]
	open := db.isOpen
	db.mu.RUnlock()
	if exists || !open {
		return coll
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.isOpen {
		return nil
	}
	if coll, exists := db.collections[name]; exists {
		return coll
	}
	coll = NewCollection(name, db.config)
	db.collections[name] = coll
	db.logger.Debug("collection created", "collection", name)
	return coll
}

// GetCollection returns an existing collection
func (db *Database) GetCollection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.isOpen {
		return nil, ErrDatabaseClosed
	}
	coll, exists := db.collections[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return coll, nil
}

// CreateCollection explicitly creates a collection
func (db *Database) CreateCollection(name string) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name must not be empty")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.isOpen {
		return nil, ErrDatabaseClosed
	}
	if _, exists := db.collections[name]; exists {
		return nil, fmt.Errorf("collection %s already exists", name)
	}
	coll := NewCollection(name, db.config)
	db.collections[name] = coll
	return coll, nil
}

// DropCollection drops a collection
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.isOpen {
		return ErrDatabaseClosed
	}
	if _, exists := db.collections[name]; !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	delete(db.collections, name)
	db.config.Metrics.ForgetCollection(name)
	db.logger.Info("collection dropped", "collection", name)
	return nil
}

// ListCollections returns the collection names in sorted order
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes the database. Collections handed out earlier stay usable;
// the database itself refuses further calls.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.isOpen {
		return ErrDatabaseClosed
	}
	db.isOpen = false
	db.collections = make(map[string]*Collection)
	return nil
}

// Stats returns a summary of every collection
func (db *Database) Stats() []CollectionStats {
	db.mu.RLock()
	colls := make([]*Collection, 0, len(db.collections))
	for _, coll := range db.collections {
		colls = append(colls, coll)
	}
	db.mu.RUnlock()

	sort.Slice(colls, func(i, j int) bool { return colls[i].name < colls[j].name })
	stats := make([]CollectionStats, len(colls))
	for i, coll := range colls {
		stats[i] = coll.Stats()
	}
	return stats
}

// Snapshot captures every collection, in name order. Each collection is
// captured under its own read lock.
func (db *Database) Snapshot() (*storage.Snapshot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.isOpen {
		return nil, ErrDatabaseClosed
	}
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)

	snap := &storage.Snapshot{Version: storage.SnapshotVersion}
	for _, name := range names {
		snap.Collections = append(snap.Collections, db.collections[name].Snapshot())
	}
	return snap, nil
}

// Restore replaces every collection with the snapshot's contents. The
// collections are rebuilt first and swapped in only if all of them load.
func (db *Database) Restore(snap *storage.Snapshot) error {
	restored := make(map[string]*Collection, len(snap.Collections))
	for _, cs := range snap.Collections {
		if _, dup := restored[cs.Name]; dup {
			return fmt.Errorf("snapshot lists collection %s twice", cs.Name)
		}
		coll := NewCollection(cs.Name, db.config)
		if err := coll.restore(cs); err != nil {
			return fmt.Errorf("failed to restore collection %s: %w", cs.Name, err)
		}
		restored[cs.Name] = coll
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.isOpen {
		return ErrDatabaseClosed
	}
	db.collections = restored
	return nil
}

// Save writes a snapshot of the database to store
func (db *Database) Save(ctx context.Context, store storage.Store) error {
	snap, err := db.Snapshot()
	if err != nil {
		return err
	}
	if err := store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	db.logger.Info("snapshot saved", "collections", len(snap.Collections))
	return nil
}

// Load restores the database from store. An empty store leaves the database
// unchanged and reports loaded=false.
func (db *Database) Load(ctx context.Context, store storage.Store) (loaded bool, err error) {
	snap, err := store.Load(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := db.Restore(snap); err != nil {
		return false, err
	}
	db.logger.Info("snapshot loaded", "collections", len(snap.Collections))
	return true, nil
}
