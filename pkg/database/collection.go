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

	"github.com/mnohosten/shelfdb/pkg/aggregation"
	"github.com/mnohosten/shelfdb/pkg/cache"
	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/index"
	"github.com/mnohosten/shelfdb/pkg/metrics"
	"github.com/mnohosten/shelfdb/pkg/query"
	"github.com/mnohosten/shelfdb/pkg/storage"
)

// record is a stored document together with its identity key and its
// insertion sequence. Updates swap doc but keep seq, so a record keeps its
// place in insertion order for its whole life.
type record struct {
	key string
	seq uint64
	doc *document.Document
}

func (r *record) indexRecord() index.Record {
	return index.Record{ID: r.key, Seq: r.seq, Doc: r.doc}
}

// Collection represents a collection of documents
type Collection struct {
	name     string
	records  map[string]*record // identity key -> record
	order    []*record          // ascending seq
	nextSeq  uint64
	indexes  *index.Manager
	executor *query.Executor
	logger   *slog.Logger
	metrics  *metrics.Collector
	slowLog  *metrics.SlowQueryLog
	results  *cache.ResultCache // nil when disabled
	mu       sync.RWMutex
}

// NewCollection creates an empty, standalone collection. config may be nil.
func NewCollection(name string, config *Config) *Collection {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	coll := &Collection{
		name:    name,
		records: make(map[string]*record),
		indexes: index.NewManager(),
		logger:  logger.With("collection", name),
		metrics: config.Metrics,
		slowLog: config.SlowQueryLog,
		results: cache.New(config.QueryCacheSize, config.QueryCacheTTL),
	}
	coll.executor = query.NewExecutor(collectionSource{coll}, coll.indexes)
	return coll
}

// collectionSource is the executor's read view. Callers hold c.mu.
type collectionSource struct {
	c *Collection
}

func (s collectionSource) Scan() []*document.Document {
	docs := make([]*document.Document, len(s.c.order))
	for i, rec := range s.c.order {
		docs[i] = rec.doc
	}
	return docs
}

func (s collectionSource) Fetch(ids []string) []*document.Document {
	docs := make([]*document.Document, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.c.records[id]; ok {
			docs = append(docs, rec.doc)
		}
	}
	return docs
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// Len returns the number of documents
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// InsertOne inserts a deep copy of doc and returns its _id. A new ObjectID is
// assigned when doc carries no _id.
func (c *Collection) InsertOne(doc map[string]interface{}) (interface{}, error) {
	d, err := fromMap(doc)
	if err != nil {
		c.observe("insert", time.Now(), err, c.Len())
		return nil, err
	}
	return c.InsertDocument(d)
}

// fromMap converts caller input, rejecting values that have no document form
func fromMap(m map[string]interface{}) (*document.Document, error) {
	doc, err := document.FromMap(m)
	if err != nil {
		return nil, query.NewValidationError("document", "%v", err)
	}
	return doc, nil
}

// InsertDocument inserts a deep copy of an ordered document and returns its _id
func (c *Collection) InsertDocument(doc *document.Document) (interface{}, error) {
	start := time.Now()
	c.mu.Lock()
	rec, err := c.insertLocked(doc.Clone())
	n := len(c.order)
	c.mu.Unlock()

	c.observe("insert", start, err, n)
	if err != nil {
		return nil, err
	}
	id, _ := rec.doc.ID()
	return id, nil
}

// InsertMany inserts every document or none of them
func (c *Collection) InsertMany(docs []map[string]interface{}) ([]interface{}, error) {
	start := time.Now()
	c.mu.Lock()
	inserted := make([]*record, 0, len(docs))
	var err error
	for i, doc := range docs {
		var rec *record
		var d *document.Document
		if d, err = fromMap(doc); err == nil {
			rec, err = c.insertLocked(d.Clone())
		}
		if err != nil {
			err = fmt.Errorf("document %d: %w", i, err)
			break
		}
		inserted = append(inserted, rec)
	}
	if err != nil {
		for i := len(inserted) - 1; i >= 0; i-- {
			c.removeLocked(inserted[i])
		}
	}
	n := len(c.order)
	c.mu.Unlock()

	c.observe("insert_many", start, err, n)
	if err != nil {
		return nil, err
	}
	ids := make([]interface{}, len(inserted))
	for i, rec := range inserted {
		ids[i], _ = rec.doc.ID()
	}
	return ids, nil
}

// insertLocked takes ownership of doc (caller must hold lock)
func (c *Collection) insertLocked(doc *document.Document) (*record, error) {
	idVal, exists := doc.Get(document.IDField)
	if !exists {
		idVal = document.NewObjectID()
		doc = withID(doc, idVal)
	}
	key, ok := document.IDKey(idVal)
	if !ok {
		return nil, query.NewValidationError("document", "_id must be an ObjectID, string or number, got %s", document.TypeOf(idVal))
	}
	if _, taken := c.records[key]; taken {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateID, idVal)
	}

	rec := &record{key: key, seq: c.nextSeq + 1, doc: doc}
	if err := c.indexes.Insert(rec.indexRecord()); err != nil {
		return nil, err
	}
	c.nextSeq++
	c.records[key] = rec
	c.order = append(c.order, rec)
	c.results.Invalidate()
	return rec, nil
}

// withID returns doc with _id as its first field
func withID(doc *document.Document, id interface{}) *document.Document {
	out := document.NewDocument()
	out.Set(document.IDField, id)
	for _, k := range doc.Keys() {
		if k == document.IDField {
			continue
		}
		v, _ := doc.Get(k)
		out.Set(k, v)
	}
	return out
}

// lookupLocked resolves an _id value to its record (caller must hold lock)
func (c *Collection) lookupLocked(id interface{}) (*record, error) {
	key, ok := document.IDKey(id)
	if !ok {
		return nil, query.NewValidationError("document", "_id must be an ObjectID, string or number, got %s", document.TypeOf(id))
	}
	rec, exists := c.records[key]
	if !exists {
		return nil, fmt.Errorf("%w: _id %v", ErrDocumentNotFound, id)
	}
	return rec, nil
}

// UpdateOne merges patch over the document with the given _id and returns the
// updated document. Patch keys may be dotted paths; a nil value sets null.
// The _id cannot change.
func (c *Collection) UpdateOne(id interface{}, patch map[string]interface{}) (*document.Document, error) {
	start := time.Now()
	c.mu.Lock()
	updated, err := c.updateLocked(id, patch)
	n := len(c.order)
	c.mu.Unlock()

	c.observe("update", start, err, n)
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (c *Collection) updateLocked(id interface{}, patch map[string]interface{}) (*document.Document, error) {
	rec, err := c.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	changes, err := fromMap(patch)
	if err != nil {
		return nil, err
	}
	changes = changes.Clone()
	if err := checkIDUnchanged(rec.doc, changes); err != nil {
		return nil, err
	}

	updated := rec.doc.Clone()
	for _, path := range changes.Keys() {
		if path == document.IDField {
			continue
		}
		v, _ := changes.Get(path)
		updated.SetPath(path, v)
	}
	return updated, c.swapLocked(rec, updated)
}

// ReplaceOne replaces the whole document with the given _id, keeping the _id
// and the document's place in insertion order
func (c *Collection) ReplaceOne(id interface{}, replacement map[string]interface{}) (*document.Document, error) {
	start := time.Now()
	c.mu.Lock()
	updated, err := c.replaceLocked(id, replacement)
	n := len(c.order)
	c.mu.Unlock()

	c.observe("replace", start, err, n)
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (c *Collection) replaceLocked(id interface{}, replacement map[string]interface{}) (*document.Document, error) {
	rec, err := c.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	doc, err := fromMap(replacement)
	if err != nil {
		return nil, err
	}
	doc = doc.Clone()
	if err := checkIDUnchanged(rec.doc, doc); err != nil {
		return nil, err
	}
	storedID, _ := rec.doc.ID()
	updated := withID(doc, storedID)
	return updated, c.swapLocked(rec, updated)
}

func checkIDUnchanged(stored, changes *document.Document) error {
	newID, ok := changes.Get(document.IDField)
	if !ok {
		return nil
	}
	oldID, _ := stored.ID()
	if !document.Equal(oldID, newID) {
		return query.NewValidationError("update", "_id is immutable (have %v, got %v)", oldID, newID)
	}
	return nil
}

// swapLocked moves rec to updated in every index, then in the record store.
// Nothing changes if an index rejects the new version.
func (c *Collection) swapLocked(rec *record, updated *document.Document) error {
	next := &record{key: rec.key, seq: rec.seq, doc: updated}
	if err := c.indexes.Replace(rec.indexRecord(), next.indexRecord()); err != nil {
		return err
	}
	rec.doc = updated
	c.results.Invalidate()
	return nil
}

// DeleteOne removes the document with the given _id and reports whether it
// existed
func (c *Collection) DeleteOne(id interface{}) bool {
	start := time.Now()
	c.mu.Lock()
	rec, err := c.lookupLocked(id)
	if err == nil {
		c.removeLocked(rec)
	}
	n := len(c.order)
	c.mu.Unlock()

	c.observe("delete", start, nil, n)
	return err == nil
}

// DeleteMany removes every document matching the filter and returns how many
// were removed
func (c *Collection) DeleteMany(filter interface{}) (int, error) {
	start := time.Now()
	f, err := query.CompileFilter(filter)
	if err != nil {
		c.observe("delete_many", start, err, -1)
		return 0, err
	}

	c.mu.Lock()
	var doomed []*record
	for _, rec := range c.order {
		if f.Matches(rec.doc) {
			doomed = append(doomed, rec)
		}
	}
	for _, rec := range doomed {
		c.removeLocked(rec)
	}
	n := len(c.order)
	c.mu.Unlock()

	c.observe("delete_many", start, nil, n)
	return len(doomed), nil
}

// removeLocked retracts rec from the indexes and the store (caller must hold lock)
func (c *Collection) removeLocked(rec *record) {
	c.indexes.Remove(rec.indexRecord())
	delete(c.records, rec.key)
	i := sort.Search(len(c.order), func(i int) bool { return c.order[i].seq >= rec.seq })
	if i < len(c.order) && c.order[i] == rec {
		c.order = append(c.order[:i], c.order[i+1:]...)
	}
	c.results.Invalidate()
}

// Find finds all documents matching the filter
func (c *Collection) Find(filter interface{}) ([]*document.Document, error) {
	return c.FindWithOptions(filter, nil)
}

// FindWithOptions finds documents with projection, sort and pagination.
// Results are copies the caller may modify. With a query cache configured,
// a repeated query is answered from the cache until the next write.
func (c *Collection) FindWithOptions(filter interface{}, options *QueryOptions) ([]*document.Document, error) {
	start := time.Now()
	q := buildQuery(filter, options)
	key, cacheable := c.cacheKey(filter, options)

	var generation uint64
	c.mu.RLock()
	if cacheable {
		if docs, ok := c.results.Get(key); ok {
			c.mu.RUnlock()
			c.observe("find", start, nil, -1)
			return docs, nil
		}
		generation = c.results.Generation()
	}
	docs, res, err := c.executor.Run(q)
	c.mu.RUnlock()

	if err == nil && cacheable {
		c.results.Put(key, generation, docs)
	}
	c.observe("find", start, err, -1)
	c.recordQuery("find", start, filter, res)
	return docs, err
}

func (c *Collection) cacheKey(filter interface{}, options *QueryOptions) (string, bool) {
	if c.results == nil {
		return "", false
	}
	if options == nil {
		options = &QueryOptions{}
	}
	return cache.Key(filter, options.Projection, options.Sort, options.Skip, options.Limit)
}

// FindOne returns the first document matching the filter
func (c *Collection) FindOne(filter interface{}) (*document.Document, error) {
	docs, err := c.FindWithOptions(filter, &QueryOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrDocumentNotFound
	}
	return docs[0], nil
}

// FindByID returns the document with the given _id
func (c *Collection) FindByID(id interface{}) (*document.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, err := c.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return rec.doc.Clone(), nil
}

// Count returns the number of documents matching the filter
func (c *Collection) Count(filter interface{}) (int, error) {
	start := time.Now()
	q := query.NewQuery(filter)

	c.mu.RLock()
	_, res, err := c.executor.Run(q)
	c.mu.RUnlock()

	c.observe("count", start, err, -1)
	c.recordQuery("count", start, filter, res)
	if err != nil {
		return 0, err
	}
	return res.ReturnedCount, nil
}

// Explain runs the query and reports the plan it used and the work it did
func (c *Collection) Explain(filter interface{}, options *QueryOptions) (*query.ExplainResult, error) {
	q := buildQuery(filter, options)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.executor.Explain(q)
}

func buildQuery(filter interface{}, options *QueryOptions) *query.Query {
	q := query.NewQuery(filter)
	if options != nil {
		q.WithProjection(options.Projection).
			WithSort(options.Sort).
			WithSkip(options.Skip).
			WithLimit(options.Limit)
	}
	return q
}

// Aggregate compiles and runs an aggregation pipeline
func (c *Collection) Aggregate(stages []map[string]interface{}) ([]*document.Document, error) {
	pipeline, err := aggregation.NewPipeline(stages)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return c.AggregatePipeline(pipeline)
}

// AggregatePipeline runs a compiled pipeline. A leading $match is served
// through the query executor so it can use an index; the remaining stages
// run outside the collection lock on copies.
func (c *Collection) AggregatePipeline(pipeline *aggregation.Pipeline) ([]*document.Document, error) {
	start := time.Now()
	match, rest := pipeline.SplitLeadingMatch()

	var (
		input []*document.Document
		res   *query.ExplainResult
		err   error
	)
	c.mu.RLock()
	if match != nil {
		input, res, err = c.executor.Run(query.NewQuery(match.Filter()))
	} else {
		input = make([]*document.Document, len(c.order))
		for i, rec := range c.order {
			input[i] = rec.doc.Clone()
		}
		res = &query.ExplainResult{Stage: query.ScanTypeCollection.String(), ScannedCount: len(input), ReturnedCount: len(input)}
	}
	c.mu.RUnlock()

	var out []*document.Document
	if err == nil {
		out, err = rest.Execute(input)
	}
	c.observe("aggregate", start, err, -1)
	c.recordQuery("aggregate", start, nil, res)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateIndex builds an index over the key descriptor (for example an ordered
// document {author: 1, published_year: -1}, or []index.KeyField) and returns
// its name. Re-creating an identical index is a no-op returning the same name.
func (c *Collection) CreateIndex(keys interface{}, options *IndexOptions) (string, error) {
	start := time.Now()
	fields, err := index.ParseKeySpec(keys)
	if err != nil {
		err = fmt.Errorf("%w: %w", query.ErrValidation, err)
		c.observe("create_index", start, err, -1)
		return "", err
	}
	if options == nil {
		options = &IndexOptions{}
	}

	c.mu.Lock()
	records := make([]index.Record, len(c.order))
	for i, rec := range c.order {
		records[i] = rec.indexRecord()
	}
	name, created, err := c.indexes.Create(index.IndexConfig{
		Name:   options.Name,
		Fields: fields,
		Unique: options.Unique,
	}, records)
	c.mu.Unlock()

	c.observe("create_index", start, err, -1)
	if err != nil {
		return "", err
	}
	if created {
		c.logger.Info("index created", "index", name, "documents", len(records))
	}
	return name, nil
}

// DropIndex removes a secondary index
func (c *Collection) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.indexes.Drop(name); err != nil {
		return err
	}
	c.logger.Info("index dropped", "index", name)
	return nil
}

// ListIndexes describes every index, _id first
func (c *Collection) ListIndexes() []IndexInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexes.List()
}

// Stats returns collection statistics
func (c *Collection) Stats() CollectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CollectionStats{
		Name:      c.name,
		Documents: len(c.order),
		Indexes:   c.indexes.List(),
	}
	if c.results != nil {
		cs := c.results.Stats()
		stats.QueryCache = &cs
	}
	return stats
}

// observe reports an operation to metrics and the log. n is the collection
// size after a mutation, or -1 for reads.
func (c *Collection) observe(op string, start time.Time, err error, n int) {
	c.metrics.ObserveOperation(c.name, op, start, err)
	if n >= 0 && err == nil {
		c.metrics.SetDocuments(c.name, n)
	}
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, query.ErrValidation) || errors.Is(err, ErrDocumentNotFound) {
			level = slog.LevelDebug
		}
		c.logger.Log(context.Background(), level, "operation failed", "op", op, "error", err)
	}
}

func (c *Collection) recordQuery(op string, start time.Time, filter interface{}, res *query.ExplainResult) {
	if res == nil {
		return
	}
	c.metrics.AddScanned(c.name, res.Stage, res.ScannedCount)
	if c.slowLog == nil {
		return
	}
	c.slowLog.Record(metrics.SlowQueryEntry{
		Duration:     time.Since(start),
		Operation:    op,
		Collection:   c.name,
		Filter:       describeFilter(filter),
		Stage:        res.Stage,
		IndexUsed:    res.UsedIndex,
		DocsExamined: res.ScannedCount,
		DocsReturned: res.ReturnedCount,
	})
}

func describeFilter(filter interface{}) string {
	var doc *document.Document
	switch f := filter.(type) {
	case *document.Document:
		doc = f
	case map[string]interface{}:
		doc = document.NewDocumentFromMap(f)
	default:
		return ""
	}
	raw, err := doc.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(raw)
}

// Snapshot captures the documents in insertion order and the secondary
// index definitions
func (c *Collection) Snapshot() storage.CollectionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cs := storage.CollectionSnapshot{
		Name:      c.name,
		Documents: make([]*document.Document, len(c.order)),
	}
	for i, rec := range c.order {
		cs.Documents[i] = rec.doc.Clone()
	}
	for _, info := range c.indexes.List() {
		if info.Name == index.IDIndexName {
			continue
		}
		cs.Indexes = append(cs.Indexes, storage.IndexSpec{Name: info.Name, Fields: info.Fields, Unique: info.Unique})
	}
	return cs
}

// restore loads a captured collection into an empty one
func (c *Collection) restore(cs storage.CollectionSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, doc := range cs.Documents {
		if _, err := c.insertLocked(doc.Clone()); err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
	}
	records := make([]index.Record, len(c.order))
	for i, rec := range c.order {
		records[i] = rec.indexRecord()
	}
	for _, spec := range cs.Indexes {
		if _, _, err := c.indexes.Create(index.IndexConfig{Name: spec.Name, Fields: spec.Fields, Unique: spec.Unique}, records); err != nil {
			return fmt.Errorf("index %s: %w", spec.Name, err)
		}
	}
	c.metrics.SetDocuments(c.name, len(c.order))
	return nil
}
