package query

import (
	"encoding/json"

	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/index"
)

// Source is the read view of a collection the executor runs against
type Source interface {
	// Scan returns every document in insertion order
	Scan() []*document.Document
	// Fetch returns the documents for the given identity keys, in the given
	// order, skipping unknown keys
	Fetch(ids []string) []*document.Document
}

// Executor executes queries against a Source, consulting its indexes
type Executor struct {
	source  Source
	planner *QueryPlanner
}

// NewExecutor creates a new executor; indexes may be nil
func NewExecutor(source Source, indexes *index.Manager) *Executor {
	return &Executor{
		source:  source,
		planner: NewQueryPlanner(indexes),
	}
}

// ExplainResult describes how a query ran. It is diagnostic only.
type ExplainResult struct {
	UsedIndex     string // empty when no index was used
	Stage         string
	ScannedCount  int
	ReturnedCount int
	KeysExamined  int
}

// MarshalJSON writes usedIndex as null when no index was used
func (r *ExplainResult) MarshalJSON() ([]byte, error) {
	var used interface{}
	if r.UsedIndex != "" {
		used = r.UsedIndex
	}
	return json.Marshal(map[string]interface{}{
		"usedIndex":     used,
		"stage":         r.Stage,
		"scannedCount":  r.ScannedCount,
		"returnedCount": r.ReturnedCount,
		"keysExamined":  r.KeysExamined,
	})
}

// Execute runs the query and returns fresh documents the caller owns
func (e *Executor) Execute(q *Query) ([]*document.Document, error) {
	docs, _, err := e.run(q)
	return docs, err
}

// Explain runs the query and reports the plan and the work done
func (e *Executor) Explain(q *Query) (*ExplainResult, error) {
	_, res, err := e.run(q)
	return res, err
}

// Run executes the query and also reports how it ran
func (e *Executor) Run(q *Query) ([]*document.Document, *ExplainResult, error) {
	return e.run(q)
}

// Count returns the number of documents matching the query's filter,
// honoring skip and limit
func (e *Executor) Count(q *Query) (int, error) {
	_, res, err := e.run(q)
	if err != nil {
		return 0, err
	}
	return res.ReturnedCount, nil
}

func (e *Executor) run(q *Query) ([]*document.Document, *ExplainResult, error) {
	c, err := q.compile()
	if err != nil {
		return nil, nil, err
	}

	plan := e.planner.Plan(c.filter, c.sort)

	var candidates []*document.Document
	if plan.ScanType == ScanTypeCollection {
		candidates = e.source.Scan()
	} else {
		candidates = e.source.Fetch(plan.CandidateIDs)
	}

	// Index narrowing only prunes; every candidate still has to pass the
	// full filter.
	matched := make([]*document.Document, 0, len(candidates))
	for _, doc := range candidates {
		if c.filter.Matches(doc) {
			matched = append(matched, doc)
		}
	}

	if !plan.SortCovered {
		SortDocuments(matched, c.sort)
	}

	matched = paginate(matched, c.skip, c.limit)

	results := make([]*document.Document, len(matched))
	for i, doc := range matched {
		results[i] = c.projection.Apply(doc)
	}

	return results, &ExplainResult{
		UsedIndex:     plan.IndexName,
		Stage:         plan.ScanType.String(),
		ScannedCount:  len(candidates),
		ReturnedCount: len(results),
		KeysExamined:  plan.KeysExamined,
	}, nil
}

// paginate applies skip then limit by position; limit 0 means no limit
func paginate(docs []*document.Document, skip, limit int) []*document.Document {
	if skip >= len(docs) {
		return docs[:0]
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}
