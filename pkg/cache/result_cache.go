// Package cache holds query results keyed by a digest of the query
// descriptor. A collection drops its whole cache on every mutation, so a
// cached entry is never older than the last write.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/mnohosten/shelfdb/pkg/document"
)

// ResultCache is an LRU cache of query results with an optional TTL.
// A nil *ResultCache is valid and caches nothing.
type ResultCache struct {
	capacity   int
	ttl        time.Duration
	items      map[string]*list.Element
	lru        *list.List
	generation uint64
	mu         sync.Mutex

	hits      uint64
	misses    uint64
	evictions uint64
}

type entry struct {
	key       string
	docs      []*document.Document
	expiresAt time.Time
}

// Stats is a snapshot of cache counters
type Stats struct {
	Capacity  int     `json:"capacity"`
	Size      int     `json:"size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hitRate"`
}

// New returns a cache holding up to capacity results. It returns nil when
// capacity is not positive. A zero ttl keeps entries until they are evicted
// or invalidated.
func New(capacity int, ttl time.Duration) *ResultCache {
	if capacity <= 0 {
		return nil
	}
	return &ResultCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Generation identifies the current cache contents. Read it while holding
// the same lock that guards the data being queried and hand it to Put.
func (c *ResultCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Get returns copies of the cached result for key
func (c *ResultCache) Get(key string) ([]*document.Document, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := elem.Value.(*entry)
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.hits++
	return cloneAll(e.docs), true
}

// Put stores a copy of docs under key. The result is dropped when the cache
// was invalidated after generation was read.
func (c *ResultCache) Put(key string, generation uint64, docs []*document.Document) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return
	}
	e := &entry{key: key, docs: cloneAll(docs)}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	if elem, ok := c.items[key]; ok {
		elem.Value = e
		c.lru.MoveToFront(elem)
		return
	}
	for c.lru.Len() >= c.capacity {
		c.removeElement(c.lru.Back())
		c.evictions++
	}
	c.items[key] = c.lru.PushFront(e)
}

// Invalidate drops every entry
func (c *ResultCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.lru.Len() == 0 {
		return
	}
	c.items = make(map[string]*list.Element, c.capacity)
	c.lru.Init()
}

// Stats returns the current counters. A nil cache reports zeros.
func (c *ResultCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *ResultCache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}

func cloneAll(docs []*document.Document) []*document.Document {
	out := make([]*document.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Clone()
	}
	return out
}

// Key digests the parts of a query descriptor. Go maps are encoded with
// sorted keys, ordered documents in field order. ok is false when a part
// has no JSON form, in which case the query should not be cached.
func Key(parts ...interface{}) (key string, ok bool) {
	doc := document.NewDocument()
	for i, part := range parts {
		v, err := document.Convert(part)
		if err != nil {
			// not a document value, e.g. a sort descriptor slice
			raw, err := json.Marshal(part)
			if err != nil {
				return "", false
			}
			v = "json:" + string(raw)
		}
		doc.Set(strconv.Itoa(i), v)
	}
	raw, err := doc.MarshalJSON()
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), true
}
