package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/metrics"
	"github.com/mnohosten/shelfdb/pkg/storage"
)

func TestDatabaseCollections(t *testing.T) {
	db, err := Open(&Config{Name: "library"})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if db.Name() != "library" {
		t.Errorf("Expected name library, got %s", db.Name())
	}

	books := db.Collection("books")
	if books == nil || db.Collection("books") != books {
		t.Fatal("Expected Collection to return the same collection twice")
	}
	if _, err := db.CreateCollection("books"); err == nil {
		t.Error("Expected creating an existing collection to fail")
	}
	if _, err := db.CreateCollection("authors"); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	if got := db.ListCollections(); len(got) != 2 || got[0] != "authors" || got[1] != "books" {
		t.Errorf("Unexpected collections %v", got)
	}

	if _, err := db.GetCollection("missing"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected ErrCollectionNotFound, got %v", err)
	}
	if err := db.DropCollection("authors"); err != nil {
		t.Fatalf("DropCollection failed: %v", err)
	}
	if err := db.DropCollection("authors"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected ErrCollectionNotFound, got %v", err)
	}

	books.InsertOne(map[string]interface{}{"title": "Dune"})
	stats := db.Stats()
	if len(stats) != 1 || stats[0].Documents != 1 || len(stats[0].Indexes) != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := db.Close(); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Expected ErrDatabaseClosed, got %v", err)
	}
	if db.Collection("books") != nil {
		t.Error("Expected nil collection after close")
	}
	if _, err := db.GetCollection("books"); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Expected ErrDatabaseClosed, got %v", err)
	}
}

func seedLibrary(t *testing.T, db *Database) {
	t.Helper()
	books := db.Collection("books")
	if _, err := books.InsertMany(testBooks); err != nil {
		t.Fatalf("Failed to seed books: %v", err)
	}
	if _, err := books.CreateIndex(orderedDoc("author", 1, "published_year", -1), nil); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	if _, err := books.CreateIndex(map[string]interface{}{"title": 1}, &IndexOptions{Unique: true}); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	authors := db.Collection("authors")
	authors.InsertOne(map[string]interface{}{"_id": "le-guin", "name": "Ursula K. Le Guin", "born": time.Date(1929, 10, 21, 0, 0, 0, 0, time.UTC)})
	authors.InsertOne(map[string]interface{}{"_id": 2, "name": "Frank Herbert", "awards": []interface{}{"Hugo", "Nebula"}})
}

func assertLibrary(t *testing.T, db *Database) {
	t.Helper()
	if got := db.ListCollections(); len(got) != 2 {
		t.Fatalf("Expected 2 collections, got %v", got)
	}
	books, err := db.GetCollection("books")
	if err != nil {
		t.Fatalf("GetCollection failed: %v", err)
	}

	docs, err := books.Find(nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != len(testBooks) || titles(docs)[0] != "The Left Hand of Darkness" {
		t.Errorf("Books not restored in insertion order: %v", titles(docs))
	}

	res, err := books.Explain(map[string]interface{}{"author": "Ursula K. Le Guin"}, nil)
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if res.UsedIndex != "author_1_published_year_-1" || res.ReturnedCount != 3 {
		t.Errorf("Compound index not restored: %+v", res)
	}
	if _, err := books.InsertOne(map[string]interface{}{"title": "Dune"}); err == nil {
		t.Error("Unique index not restored")
	}

	authors, _ := db.GetCollection("authors")
	doc, err := authors.FindByID("le-guin")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	born, _ := doc.Get("born")
	if ts, ok := born.(time.Time); !ok || ts.Year() != 1929 {
		t.Errorf("Unexpected born %v", born)
	}
	if _, err := authors.FindByID(int64(2)); err != nil {
		t.Errorf("Numeric _id not restored: %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	src, _ := Open(nil)
	seedLibrary(t, src)

	snap, err := src.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Collections[0].Name != "authors" {
		t.Errorf("Expected collections in name order, got %s first", snap.Collections[0].Name)
	}
	for _, cs := range snap.Collections {
		for _, spec := range cs.Indexes {
			if spec.Name == "_id_" {
				t.Error("Snapshot should not carry the _id index")
			}
		}
	}

	dst, _ := Open(nil)
	dst.Collection("stale").InsertOne(map[string]interface{}{"x": 1})
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	assertLibrary(t, dst)

	t.Run("failed restore keeps state", func(t *testing.T) {
		bad := &storage.Snapshot{Version: storage.SnapshotVersion, Collections: []storage.CollectionSnapshot{{
			Name: "books",
			Documents: []*document.Document{
				document.NewDocumentFromMap(map[string]interface{}{"_id": 1}),
				document.NewDocumentFromMap(map[string]interface{}{"_id": 1}),
			},
		}}}
		if err := dst.Restore(bad); !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("Expected ErrDuplicateID, got %v", err)
		}
		assertLibrary(t, dst)
	})
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "library.shelf")

	store, err := storage.Open("file", path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	db, _ := Open(nil)
	loaded, err := db.Load(ctx, store)
	if err != nil || loaded {
		t.Fatalf("Expected an empty store to load nothing, got %v (%v)", loaded, err)
	}

	seedLibrary(t, db)
	if err := db.Save(ctx, store); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := storage.Open("file", path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	restored, _ := Open(nil)
	loaded, err = restored.Load(ctx, reopened)
	if err != nil || !loaded {
		t.Fatalf("Load failed: %v (loaded=%v)", err, loaded)
	}
	assertLibrary(t, restored)
}

func TestMetricsAndSlowLog(t *testing.T) {
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slowLog := metrics.NewSlowQueryLog(&metrics.SlowQueryLogConfig{Threshold: 0, MaxEntries: 10, Logger: logger})

	db, _ := Open(&Config{
		Name:         "library",
		Logger:       logger,
		Metrics:      metrics.NewCollector(reg),
		SlowQueryLog: slowLog,
	})
	books := db.Collection("books")
	if _, err := books.InsertMany(testBooks); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}
	if _, err := books.CreateIndex(map[string]interface{}{"author": 1}, nil); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	books.Find(map[string]interface{}{"author": "Frank Herbert"})
	books.Find(map[string]interface{}{"genre": "Fantasy"})
	books.InsertOne(map[string]interface{}{"_id": []interface{}{}})

	count, err := testutil.GatherAndCount(reg, "shelfdb_operations_total")
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if count < 3 {
		t.Errorf("Expected at least 3 operation series, got %d", count)
	}

	expected := `
# HELP shelfdb_documents Current number of documents per collection.
# TYPE shelfdb_documents gauge
shelfdb_documents{collection="books"} 8
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "shelfdb_documents"); err != nil {
		t.Errorf("Unexpected documents gauge: %v", err)
	}

	entries := slowLog.EntriesByCollection("books")
	if len(entries) != 2 {
		t.Fatalf("Expected 2 slow log entries, got %d", len(entries))
	}
	if entries[0].Stage != "IXSCAN" || entries[0].IndexUsed != "author_1" || entries[0].DocsExamined != 1 {
		t.Errorf("Unexpected indexed entry %+v", entries[0])
	}
	if entries[1].Stage != "COLLSCAN" || entries[1].DocsExamined != len(testBooks) || entries[1].DocsReturned != 2 {
		t.Errorf("Unexpected scan entry %+v", entries[1])
	}
	if !strings.Contains(entries[1].Filter, `"genre":"Fantasy"`) {
		t.Errorf("Unexpected filter rendering %q", entries[1].Filter)
	}

	out := logs.String()
	for _, want := range []string{"index created", "slow query", "operation failed", "db=library", "collection=books"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %q:\n%s", want, out)
		}
	}

	if err := db.DropCollection("books"); err != nil {
		t.Fatalf("DropCollection failed: %v", err)
	}
	if n, _ := testutil.GatherAndCount(reg, "shelfdb_documents"); n != 0 {
		t.Errorf("Expected dropped collection series to be removed, got %d", n)
	}
}
