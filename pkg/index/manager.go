package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mnohosten/shelfdb/pkg/document"
)

// IDIndexName is the name of the index every collection keeps on _id
const IDIndexName = "_id_"

// Bound is the part of a filter on one field that an index can serve:
// either a set of equality points or a range.
type Bound struct {
	Points    []interface{}
	HasPoints bool

	Lower, Upper                   interface{}
	HasLower, HasUpper             bool
	LowerInclusive, UpperInclusive bool
}

// Contains reports whether v falls inside the range part of the bound. Values
// that are not order-comparable with a bound endpoint are outside.
func (b Bound) Contains(v interface{}) bool {
	if b.HasLower {
		if !document.Comparable(v, b.Lower) {
			return false
		}
		c := document.Compare(v, b.Lower)
		if c < 0 || (c == 0 && !b.LowerInclusive) {
			return false
		}
	}
	if b.HasUpper {
		if !document.Comparable(v, b.Upper) {
			return false
		}
		c := document.Compare(v, b.Upper)
		if c > 0 || (c == 0 && !b.UpperInclusive) {
			return false
		}
	}
	return true
}

// LookupResult is the outcome of an index-assisted lookup
type LookupResult struct {
	IndexName    string
	IDs          []string // candidate identity keys
	KeysExamined int
}

// Manager owns the secondary indexes of one collection and keeps them in step
// with every write
type Manager struct {
	indexes []*Index // creation order
	byName  map[string]*Index
	mu      sync.RWMutex
}

// NewManager creates a manager holding only the unique _id index
func NewManager() *Manager {
	m := &Manager{byName: make(map[string]*Index)}
	idIdx, _ := NewIndex(IndexConfig{
		Name:   IDIndexName,
		Fields: []KeyField{{Path: document.IDField, Direction: Ascending}},
		Unique: true,
	})
	m.indexes = append(m.indexes, idIdx)
	m.byName[IDIndexName] = idIdx
	return m
}

// Create registers a new index and builds it from records. Creating an index
// whose fields and directions match an existing one is a no-op that returns
// the existing name with created=false.
func (m *Manager) Create(config IndexConfig, records []Record) (name string, created bool, err error) {
	if err := validateFields(config.Fields); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.indexes {
		if !sameFields(existing.fields, config.Fields) {
			continue
		}
		if existing.unique != config.Unique || (config.Name != "" && config.Name != existing.name) {
			return "", false, fmt.Errorf("%w: index %s already exists on the same key with different options", ErrIndexConflict, existing.name)
		}
		return existing.name, false, nil
	}

	idx, err := NewIndex(config)
	if err != nil {
		return "", false, err
	}
	if _, exists := m.byName[idx.name]; exists {
		return "", false, fmt.Errorf("%w: index name %s is taken by a different key", ErrIndexConflict, idx.name)
	}

	for _, rec := range records {
		if err := idx.insert(rec); err != nil {
			return "", false, fmt.Errorf("failed to build index %s: %w", idx.name, err)
		}
	}

	m.indexes = append(m.indexes, idx)
	m.byName[idx.name] = idx
	return idx.name, true, nil
}

// Drop removes an index. The _id index cannot be dropped.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == IDIndexName {
		return fmt.Errorf("%w: cannot drop %s", ErrIndexConflict, IDIndexName)
	}
	if _, ok := m.byName[name]; !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	delete(m.byName, name)
	for i, idx := range m.indexes {
		if idx.name == name {
			m.indexes = append(m.indexes[:i], m.indexes[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the index with the given name
func (m *Manager) Get(name string) (*Index, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byName[name]
	return idx, ok
}

// List describes every index in creation order
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.indexes))
	for _, idx := range m.indexes {
		infos = append(infos, idx.Info())
	}
	return infos
}

// Len returns the number of indexes, including _id
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indexes)
}

// Insert adds a record to every index. If any index rejects it the entries
// already written are removed again, so the call is all-or-nothing.
func (m *Manager) Insert(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec)
}

func (m *Manager) insertLocked(rec Record) error {
	for i, idx := range m.indexes {
		if err := idx.insert(rec); err != nil {
			for _, done := range m.indexes[:i] {
				done.remove(rec)
			}
			return err
		}
	}
	return nil
}

// Remove retracts a record from every index
func (m *Manager) Remove(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, idx := range m.indexes {
		idx.remove(rec)
	}
}

// Replace swaps old for updated in every index. On failure the old entries
// are restored.
func (m *Manager) Replace(old, updated Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, idx := range m.indexes {
		idx.remove(old)
	}
	if err := m.insertLocked(updated); err != nil {
		if restoreErr := m.insertLocked(old); restoreErr != nil {
			return fmt.Errorf("%w (restoring previous entries also failed: %v)", err, restoreErr)
		}
		return err
	}
	return nil
}

// Lookup picks the index that serves the most of the bounds and returns the
// candidate identities in insertion order. ok is false when no index applies
// and the caller must scan.
func (m *Manager) Lookup(bounds map[string]Bound) (*LookupResult, bool) {
	if len(bounds) == 0 {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best         *Index
		bestPrefixes [][]interface{}
		bestRange    *Bound
		bestScore    int
	)
	for _, idx := range m.indexes {
		prefixes, rng, score := idx.plan(bounds)
		if score > bestScore {
			best, bestPrefixes, bestRange, bestScore = idx, prefixes, rng, score
		}
	}
	if best == nil {
		return nil, false
	}

	postings, examined := best.scan(bestPrefixes, bestRange)
	sort.Slice(postings, func(i, j int) bool { return postings[i].Seq < postings[j].Seq })

	ids := make([]string, 0, len(postings))
	for i, p := range postings {
		// $in points that compare equal land on the same entry twice
		if i > 0 && postings[i-1].Seq == p.Seq {
			continue
		}
		ids = append(ids, p.ID)
	}
	return &LookupResult{IndexName: best.name, IDs: ids, KeysExamined: examined}, true
}

// SortOrder returns every identity in the order the sort descriptor asks for,
// read straight off an index whose fields are exactly the sort fields (in the
// same or fully reversed directions). Ties keep insertion order.
func (m *Manager) SortOrder(sortFields []KeyField) (*LookupResult, bool) {
	if len(sortFields) == 0 {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, idx := range m.indexes {
		reverse, ok := matchesSort(idx.fields, sortFields)
		if !ok {
			continue
		}
		postings := idx.ordered(reverse)
		ids := make([]string, len(postings))
		for i, p := range postings {
			ids[i] = p.ID
		}
		return &LookupResult{IndexName: idx.name, IDs: ids, KeysExamined: len(idx.entries)}, true
	}
	return nil, false
}

func matchesSort(fields, sortFields []KeyField) (reverse bool, ok bool) {
	if len(fields) != len(sortFields) {
		return false, false
	}
	same, flipped := true, true
	for i := range fields {
		if fields[i].Path != sortFields[i].Path {
			return false, false
		}
		if fields[i].Direction != sortFields[i].Direction {
			same = false
		} else {
			flipped = false
		}
	}
	switch {
	case same:
		return false, true
	case flipped:
		return true, true
	}
	return false, false
}
