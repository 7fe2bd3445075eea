package main

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mnohosten/shelfdb/pkg/database"
	"github.com/mnohosten/shelfdb/pkg/impex"
	"github.com/mnohosten/shelfdb/pkg/metrics"
	"github.com/mnohosten/shelfdb/pkg/storage"
)

//go:embed books.json
var seedBooks []byte

const booksCollection = "books"

// app is the database plus the collaborators a command needs
type app struct {
	cfg      Config
	logger   *slog.Logger
	db       *database.Database
	store    storage.Store // nil when nothing is persisted
	registry *prometheus.Registry
	slow     *metrics.SlowQueryLog
}

// openApp builds the database, restores it from the configured store and
// seeds the books collection when there was nothing to restore
func openApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.slow = metrics.NewSlowQueryLog(&metrics.SlowQueryLogConfig{
		Threshold: cfg.Server.SlowQueryThreshold,
		Logger:    logger,
	})

	db, err := database.Open(&database.Config{
		Name:           cfg.Database,
		Logger:         logger,
		Metrics:        metrics.NewCollector(a.registry),
		SlowQueryLog:   a.slow,
		QueryCacheSize: cfg.Cache.Size,
		QueryCacheTTL:  cfg.Cache.TTL,
	})
	if err != nil {
		return nil, err
	}
	a.db = db

	if cfg.Store.Kind != "" {
		store, err := storage.OpenWithOptions(cfg.Store.Kind, cfg.Store.Path, storage.Options{Passphrase: cfg.Store.Passphrase})
		if err != nil {
			return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Kind, err)
		}
		a.store = store
		loaded, err := db.Load(ctx, store)
		if err != nil {
			store.Close()
			return nil, err
		}
		if loaded {
			return a, nil
		}
	}

	n, err := seed(db.Collection(booksCollection))
	if err != nil {
		a.close(ctx, false)
		return nil, err
	}
	logger.Info("seeded books", "documents", n)
	return a, nil
}

// seed inserts the embedded dataset in file order
func seed(books *database.Collection) (int, error) {
	docs, err := impex.ReadJSON(bytes.NewReader(seedBooks))
	if err != nil {
		return 0, fmt.Errorf("parsing seed data: %w", err)
	}
	for i, doc := range docs {
		if _, err := books.InsertDocument(doc); err != nil {
			return 0, fmt.Errorf("seed entry %d: %w", i, err)
		}
	}
	return len(docs), nil
}

// close saves the database when asked to and a store is configured
func (a *app) close(ctx context.Context, save bool) error {
	var err error
	if a.store != nil {
		if save {
			err = a.db.Save(ctx, a.store)
		}
		err = errors.Join(err, a.store.Close())
	}
	return errors.Join(err, a.db.Close())
}
