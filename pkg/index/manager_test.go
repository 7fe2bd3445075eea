package index

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mnohosten/shelfdb/pkg/document"
)

type book struct {
	author string
	year   int
	price  float64
}

var shelf = []book{
	{"Le Guin", 1969, 12.5},
	{"Herbert", 1965, 9.99},
	{"Le Guin", 1974, 11.0},
	{"Weir", 2021, 15.0},
	{"Le Guin", 1968, 8.5},
}

func records(t *testing.T) []Record {
	t.Helper()
	out := make([]Record, len(shelf))
	for i, b := range shelf {
		doc := document.NewDocument()
		doc.Set(document.IDField, int64(i+1))
		doc.Set("author", b.author)
		doc.Set("year", b.year)
		doc.Set("price", b.price)
		key, _ := document.IDKey(int64(i + 1))
		out[i] = Record{ID: key, Seq: uint64(i + 1), Doc: doc}
	}
	return out
}

func newShelfManager(t *testing.T) (*Manager, []Record) {
	t.Helper()
	m := NewManager()
	recs := records(t)
	for _, r := range recs {
		if err := m.Insert(r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	return m, recs
}

func authorYear() []KeyField {
	return []KeyField{{Path: "author", Direction: Ascending}, {Path: "year", Direction: Descending}}
}

func ids(res *LookupResult) string {
	return fmt.Sprint(res.IDs)
}

func TestManagerCreate(t *testing.T) {
	m, recs := newShelfManager(t)

	name, created, err := m.Create(IndexConfig{Fields: authorYear()}, recs)
	if err != nil || !created || name != "author_1_year_-1" {
		t.Fatalf("Create returned %s, %v, %v", name, created, err)
	}

	again, created, err := m.Create(IndexConfig{Fields: authorYear()}, recs)
	if err != nil || created || again != name {
		t.Errorf("Expected idempotent create, got %s, %v, %v", again, created, err)
	}

	if _, _, err := m.Create(IndexConfig{Fields: authorYear(), Unique: true}, recs); !errors.Is(err, ErrIndexConflict) {
		t.Errorf("Expected ErrIndexConflict for different options, got %v", err)
	}
	if _, _, err := m.Create(IndexConfig{Name: name, Fields: []KeyField{{Path: "price", Direction: Ascending}}}, recs); !errors.Is(err, ErrIndexConflict) {
		t.Errorf("Expected ErrIndexConflict for a taken name, got %v", err)
	}
	if _, _, err := m.Create(IndexConfig{Fields: []KeyField{{Path: "author", Direction: Ascending}}, Unique: true}, recs); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey building a unique index over duplicates, got %v", err)
	}
	if _, ok := m.Get("author_1"); ok {
		t.Error("Failed build left an index behind")
	}

	infos := m.List()
	if len(infos) != 2 || infos[0].Name != IDIndexName || infos[1].Entries != len(shelf) || infos[1].DistinctKeys != len(shelf) {
		t.Errorf("Unexpected index list %+v", infos)
	}
	if m.Len() != 2 {
		t.Errorf("Expected 2 indexes, got %d", m.Len())
	}
}

func TestManagerLookup(t *testing.T) {
	m, recs := newShelfManager(t)
	if _, _, err := m.Create(IndexConfig{Fields: authorYear()}, recs); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, _, err := m.Create(IndexConfig{Fields: []KeyField{{Path: "price", Direction: Ascending}}}, recs); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tests := []struct {
		name     string
		bounds   map[string]Bound
		index    string
		ids      string
		examined int
	}{
		{
			name:     "equality prefix in insertion order",
			bounds:   map[string]Bound{"author": {Points: []interface{}{"Le Guin"}, HasPoints: true}},
			index:    "author_1_year_-1",
			ids:      "[n1 n3 n5]",
			examined: 3,
		},
		{
			name: "equality then range",
			bounds: map[string]Bound{
				"author": {Points: []interface{}{"Le Guin"}, HasPoints: true},
				"year":   {Lower: int64(1969), HasLower: true, LowerInclusive: true},
			},
			index:    "author_1_year_-1",
			ids:      "[n1 n3]",
			examined: 3,
		},
		{
			name:     "in list with duplicates",
			bounds:   map[string]Bound{"author": {Points: []interface{}{"Weir", "Herbert", "Weir", "Nobody"}, HasPoints: true}},
			index:    "author_1_year_-1",
			ids:      "[n2 n4]",
			examined: 3,
		},
		{
			name:     "range",
			bounds:   map[string]Bound{"price": {Lower: 9.99, HasLower: true, Upper: int64(12), HasUpper: true}},
			index:    "price_1",
			ids:      "[n3]",
			examined: 5,
		},
		{
			name:     "id equality",
			bounds:   map[string]Bound{"_id": {Points: []interface{}{4.0}, HasPoints: true}},
			index:    IDIndexName,
			ids:      "[n4]",
			examined: 1,
		},
		{
			name:     "incomparable range",
			bounds:   map[string]Bound{"price": {Lower: "cheap", HasLower: true}},
			index:    "price_1",
			ids:      "[]",
			examined: 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := m.Lookup(tt.bounds)
			if !ok {
				t.Fatal("Expected an index to apply")
			}
			if res.IndexName != tt.index || ids(res) != tt.ids || res.KeysExamined != tt.examined {
				t.Errorf("Got %s %s examined=%d, want %s %s examined=%d", res.IndexName, ids(res), res.KeysExamined, tt.index, tt.ids, tt.examined)
			}
		})
	}

	if _, ok := m.Lookup(map[string]Bound{"year": {Points: []interface{}{int64(1969)}, HasPoints: true}}); ok {
		t.Error("A non-prefix field must not use the compound index")
	}
	if _, ok := m.Lookup(nil); ok {
		t.Error("Expected no index for empty bounds")
	}
}

func TestManagerSortOrder(t *testing.T) {
	m, recs := newShelfManager(t)
	if _, _, err := m.Create(IndexConfig{Fields: authorYear()}, recs); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	res, ok := m.SortOrder(authorYear())
	if !ok || ids(res) != "[n2 n3 n1 n5 n4]" {
		t.Errorf("Unexpected forward order %v (%v)", res, ok)
	}

	reversed := []KeyField{{Path: "author", Direction: Descending}, {Path: "year", Direction: Ascending}}
	res, ok = m.SortOrder(reversed)
	if !ok || ids(res) != "[n4 n5 n1 n3 n2]" {
		t.Errorf("Unexpected reverse order %v (%v)", res, ok)
	}

	if _, ok := m.SortOrder([]KeyField{{Path: "author", Direction: Ascending}}); ok {
		t.Error("A sort on a strict prefix must not use the index")
	}
	if _, ok := m.SortOrder([]KeyField{{Path: "author", Direction: Ascending}, {Path: "year", Direction: Ascending}}); ok {
		t.Error("A partially flipped sort must not use the index")
	}
}

func TestManagerWrites(t *testing.T) {
	m, recs := newShelfManager(t)
	if _, _, err := m.Create(IndexConfig{Fields: []KeyField{{Path: "price", Direction: Ascending}}, Unique: true}, recs); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	priceIs := func(p float64) string {
		res, _ := m.Lookup(map[string]Bound{"price": {Points: []interface{}{p}, HasPoints: true}})
		return ids(res)
	}

	t.Run("insert rejected atomically", func(t *testing.T) {
		doc := document.NewDocument()
		doc.Set(document.IDField, int64(9))
		doc.Set("price", 15.0)
		if err := m.Insert(Record{ID: "n9", Seq: 9, Doc: doc}); !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("Expected ErrDuplicateKey, got %v", err)
		}
		res, _ := m.Lookup(map[string]Bound{"_id": {Points: []interface{}{int64(9)}, HasPoints: true}})
		if len(res.IDs) != 0 {
			t.Error("Rejected insert left an _id entry")
		}
	})

	t.Run("replace", func(t *testing.T) {
		updated := recs[1].Doc.Clone()
		updated.Set("price", 20.0)
		next := Record{ID: recs[1].ID, Seq: recs[1].Seq, Doc: updated}
		if err := m.Replace(recs[1], next); err != nil {
			t.Fatalf("Replace failed: %v", err)
		}
		if priceIs(9.99) != "[]" || priceIs(20.0) != "[n2]" {
			t.Errorf("Index did not follow the replacement")
		}

		clash := updated.Clone()
		clash.Set("price", 15.0)
		if err := m.Replace(next, Record{ID: next.ID, Seq: next.Seq, Doc: clash}); !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("Expected ErrDuplicateKey, got %v", err)
		}
		if priceIs(20.0) != "[n2]" || priceIs(15.0) != "[n4]" {
			t.Error("Failed replace did not restore the previous entries")
		}
		recs[1] = next
	})

	t.Run("remove", func(t *testing.T) {
		m.Remove(recs[3])
		if priceIs(15.0) != "[]" {
			t.Error("Removed record still indexed")
		}
		infos := m.List()
		if infos[0].Entries != len(shelf)-1 || infos[1].Entries != len(shelf)-1 {
			t.Errorf("Unexpected entry counts %+v", infos)
		}
	})

	t.Run("drop", func(t *testing.T) {
		if err := m.Drop("price_1"); err != nil {
			t.Fatalf("Drop failed: %v", err)
		}
		if err := m.Drop("price_1"); !errors.Is(err, ErrIndexNotFound) {
			t.Errorf("Expected ErrIndexNotFound, got %v", err)
		}
		if err := m.Drop(IDIndexName); !errors.Is(err, ErrIndexConflict) {
			t.Errorf("Expected ErrIndexConflict, got %v", err)
		}
	})
}
