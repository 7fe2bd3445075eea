package query

import (
	"github.com/mnohosten/shelfdb/pkg/index"
)

// ScanType represents how a plan produces its candidates
type ScanType int

const (
	ScanTypeCollection ScanType = iota // Full collection scan in insertion order
	ScanTypeIndex                      // Index seek narrowing the candidates
	ScanTypeIndexSort                  // Full index walk that yields sorted output
)

func (s ScanType) String() string {
	switch s {
	case ScanTypeIndex:
		return "IXSCAN"
	case ScanTypeIndexSort:
		return "IXSORT"
	default:
		return "COLLSCAN"
	}
}

// QueryPlan represents an execution plan for a query
type QueryPlan struct {
	ScanType     ScanType
	IndexName    string
	CandidateIDs []string // identity keys to fetch; unused for collection scans
	KeysExamined int
	SortCovered  bool // candidates already arrive in the requested order
}

// QueryPlanner chooses between a collection scan and an index
type QueryPlanner struct {
	indexes *index.Manager
}

// NewQueryPlanner creates a planner over a collection's indexes; indexes may be nil
func NewQueryPlanner(indexes *index.Manager) *QueryPlanner {
	return &QueryPlanner{indexes: indexes}
}

// Plan picks an index seek when the filter's bounds cover a prefix of some
// index, else an index walk when the sort matches an index exactly, else a
// collection scan. Index choice never changes the result, only the work.
func (qp *QueryPlanner) Plan(filter *Filter, sortFields []SortField) *QueryPlan {
	plan := &QueryPlan{ScanType: ScanTypeCollection}
	if qp.indexes == nil {
		return plan
	}

	if filter != nil && !filter.IsEmpty() {
		if res, ok := qp.indexes.Lookup(filter.Bounds()); ok {
			plan.ScanType = ScanTypeIndex
			plan.IndexName = res.IndexName
			plan.CandidateIDs = res.IDs
			plan.KeysExamined = res.KeysExamined
			return plan
		}
	}

	if len(sortFields) > 0 {
		if res, ok := qp.indexes.SortOrder(keyFields(sortFields)); ok {
			plan.ScanType = ScanTypeIndexSort
			plan.IndexName = res.IndexName
			plan.CandidateIDs = res.IDs
			plan.KeysExamined = res.KeysExamined
			plan.SortCovered = true
		}
	}
	return plan
}
