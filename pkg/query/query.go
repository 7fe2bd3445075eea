package query

// Query describes one read: filter, projection, sort and pagination. It is
// plain data; nothing is validated until the query is executed or explained.
type Query struct {
	filter     interface{}
	projection interface{}
	sort       []SortField
	limit      int
	skip       int
}

// NewQuery creates a new query. filter may be nil, a map[string]interface{}
// or a *document.Document.
func NewQuery(filter interface{}) *Query {
	return &Query{filter: filter}
}

// WithProjection sets the projection
func (q *Query) WithProjection(projection interface{}) *Query {
	q.projection = projection
	return q
}

// WithSort sets the sort order
func (q *Query) WithSort(fields []SortField) *Query {
	q.sort = fields
	return q
}

// WithLimit sets the limit; 0 means no limit
func (q *Query) WithLimit(limit int) *Query {
	q.limit = limit
	return q
}

// WithSkip sets the number of leading results to drop
func (q *Query) WithSkip(skip int) *Query {
	q.skip = skip
	return q
}

// GetFilter returns the filter descriptor
func (q *Query) GetFilter() interface{} {
	return q.filter
}

// GetSort returns the sort fields
func (q *Query) GetSort() []SortField {
	return q.sort
}

// GetLimit returns the limit
func (q *Query) GetLimit() int {
	return q.limit
}

// GetSkip returns the skip
func (q *Query) GetSkip() int {
	return q.skip
}

// compiled is the validated form of a Query
type compiled struct {
	filter     *Filter
	projection *Projection
	sort       []SortField
	skip       int
	limit      int
}

func (q *Query) compile() (*compiled, error) {
	if q.skip < 0 {
		return nil, NewValidationError("query", "skip must not be negative, got %d", q.skip)
	}
	if q.limit < 0 {
		return nil, NewValidationError("query", "limit must not be negative, got %d", q.limit)
	}
	filter, err := CompileFilter(q.filter)
	if err != nil {
		return nil, err
	}
	projection, err := CompileProjection(q.projection)
	if err != nil {
		return nil, err
	}
	sortFields, err := ParseSort(q.sort)
	if err != nil {
		return nil, err
	}
	return &compiled{
		filter:     filter,
		projection: projection,
		sort:       sortFields,
		skip:       q.skip,
		limit:      q.limit,
	}, nil
}
