package aggregation

import (
	"fmt"
	"math"
	"strings"

	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/query"
)

// Pipeline represents an aggregation pipeline
type Pipeline struct {
	stages []Stage
}

// Stage represents a single stage in the pipeline. Stages are immutable once
// built and never modify their input documents.
type Stage interface {
	Execute(docs []*document.Document) ([]*document.Document, error)
	Type() string
}

// NewPipeline compiles stage descriptors such as {"$group": {...}}. Each
// descriptor must hold exactly one stage key.
func NewPipeline(stages []map[string]interface{}) (*Pipeline, error) {
	docs := make([]*document.Document, len(stages))
	for i, s := range stages {
		if len(s) != 1 {
			return nil, query.NewValidationError("stage", "stage %d must have exactly one key, got %d", i, len(s))
		}
		if spec, ok := s["$sort"].(map[string]interface{}); ok && len(spec) > 1 {
			return nil, query.NewValidationError("stage", "$sort on several fields must be an ordered document or a list of single-key maps")
		}
		docs[i] = document.NewDocumentFromMap(s)
	}
	return ParsePipeline(docs)
}

// ParsePipeline compiles stage descriptors given as ordered documents, which
// keeps multi-key $sort specs and $project field order intact
func ParsePipeline(stages []*document.Document) (*Pipeline, error) {
	pipeline := &Pipeline{stages: make([]Stage, 0, len(stages))}
	for i, stageDef := range stages {
		if stageDef == nil || stageDef.Len() != 1 {
			return nil, query.NewValidationError("stage", "stage %d must have exactly one key", i)
		}
		stage, err := createStage(stageDef)
		if err != nil {
			return nil, err
		}
		pipeline.stages = append(pipeline.stages, stage)
	}
	return pipeline, nil
}

// NewPipelineFromStages assembles a pipeline from already-built stages
func NewPipelineFromStages(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Stages returns the stages in execution order
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// SplitLeadingMatch separates a leading $match stage so the caller can serve
// it from an index. It returns nil and the whole pipeline when there is none.
func (p *Pipeline) SplitLeadingMatch() (*MatchStage, *Pipeline) {
	if len(p.stages) > 0 {
		if m, ok := p.stages[0].(*MatchStage); ok {
			return m, &Pipeline{stages: p.stages[1:]}
		}
	}
	return nil, p
}

// Execute runs the stages in order, each consuming the previous output
func (p *Pipeline) Execute(docs []*document.Document) ([]*document.Document, error) {
	result := docs
	for _, stage := range p.stages {
		var err error
		result, err = stage.Execute(result)
		if err != nil {
			return nil, fmt.Errorf("stage %s failed: %w", stage.Type(), err)
		}
	}
	return result, nil
}

func createStage(stageDef *document.Document) (Stage, error) {
	stageType := stageDef.Keys()[0]
	stageSpec, _ := stageDef.Get(stageType)
	switch stageType {
	case "$match":
		return newMatchStage(stageSpec)
	case "$project":
		return newProjectStage(stageSpec)
	case "$sort":
		return newSortStage(stageSpec)
	case "$limit":
		return newLimitStage(stageSpec)
	case "$skip":
		return newSkipStage(stageSpec)
	case "$group":
		return newGroupStage(stageSpec)
	case "$count":
		return newCountStage(stageSpec)
	default:
		return nil, query.NewValidationError("stage", "unsupported stage type: %s", stageType)
	}
}

// MatchStage filters documents
type MatchStage struct {
	filter *query.Filter
}

func newMatchStage(spec interface{}) (*MatchStage, error) {
	if _, ok := spec.(*document.Document); !ok {
		return nil, query.NewValidationError("stage", "$match requires a filter document")
	}
	filter, err := query.CompileFilter(spec)
	if err != nil {
		return nil, err
	}
	return &MatchStage{filter: filter}, nil
}

// Filter returns the compiled filter
func (s *MatchStage) Filter() *query.Filter {
	return s.filter
}

func (s *MatchStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	result := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		if s.filter.Matches(doc) {
			result = append(result, doc)
		}
	}
	return result, nil
}

func (s *MatchStage) Type() string {
	return "$match"
}

type projectField struct {
	path    string
	include bool
	expr    Expression // set for computed fields
}

// ProjectStage reshapes documents: inclusion, exclusion or computed fields
type ProjectStage struct {
	fields    []projectField
	exclusion bool
	excludeID bool
	computeID Expression
}

func newProjectStage(spec interface{}) (*ProjectStage, error) {
	doc, ok := spec.(*document.Document)
	if !ok || doc.Len() == 0 {
		return nil, query.NewValidationError("stage", "$project requires a non-empty projection document")
	}

	stage := &ProjectStage{}
	sawInclude, sawExclude := false, false
	for _, path := range doc.Keys() {
		if path == "" || strings.HasPrefix(path, "$") {
			return nil, query.NewValidationError("stage", "$project has invalid field %q", path)
		}
		v, _ := doc.Get(path)

		if flag, isFlag := projectFlag(v); isFlag {
			if path == document.IDField {
				stage.excludeID = !flag
				continue
			}
			if flag {
				sawInclude = true
			} else {
				sawExclude = true
			}
			stage.fields = append(stage.fields, projectField{path: path, include: flag})
			continue
		}

		expr, err := CompileExpression(v)
		if err != nil {
			return nil, err
		}
		if path == document.IDField {
			stage.computeID = expr
			continue
		}
		sawInclude = true
		stage.fields = append(stage.fields, projectField{path: path, include: true, expr: expr})
	}
	if sawInclude && sawExclude {
		return nil, query.NewValidationError("stage", "$project cannot mix exclusion with inclusion or computed fields")
	}
	stage.exclusion = sawExclude || (!sawInclude && stage.excludeID && stage.computeID == nil)
	return stage, nil
}

// projectFlag recognizes the 0/1/true/false inclusion flags
func projectFlag(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case int32, int64, float64:
		n, _ := document.ToFloat64(val)
		return n != 0, true
	}
	return false, false
}

func (s *ProjectStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	result := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		projected, err := s.project(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, projected)
	}
	return result, nil
}

func (s *ProjectStage) project(doc *document.Document) (*document.Document, error) {
	if s.exclusion {
		out := doc.Clone()
		for _, f := range s.fields {
			out.DeletePath(f.path)
		}
		if s.excludeID {
			out.Delete(document.IDField)
		}
		return out, nil
	}

	out := document.NewDocument()
	switch {
	case s.computeID != nil:
		v, err := s.computeID.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		out.Set(document.IDField, v)
	case !s.excludeID:
		if id, ok := doc.Get(document.IDField); ok {
			out.Set(document.IDField, id)
		}
	}

	for _, f := range s.fields {
		if f.expr != nil {
			v, err := f.expr.Evaluate(doc)
			if err != nil {
				return nil, err
			}
			out.SetPath(f.path, v)
			continue
		}
		if v, ok := doc.GetPath(f.path); ok {
			out.SetPath(f.path, v)
		}
	}
	return out.Clone(), nil
}

func (s *ProjectStage) Type() string {
	return "$project"
}

// SortStage sorts documents; the sort is stable
type SortStage struct {
	sortFields []query.SortField
}

func newSortStage(spec interface{}) (*SortStage, error) {
	sortFields, err := query.ParseSort(spec)
	if err != nil {
		return nil, err
	}
	if len(sortFields) == 0 {
		return nil, query.NewValidationError("stage", "$sort requires at least one field")
	}
	return &SortStage{sortFields: sortFields}, nil
}

func (s *SortStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	// Sort a copy so the caller's slice keeps its order
	result := make([]*document.Document, len(docs))
	copy(result, docs)
	query.SortDocuments(result, s.sortFields)
	return result, nil
}

func (s *SortStage) Type() string {
	return "$sort"
}

// LimitStage keeps the first n documents
type LimitStage struct {
	limit int
}

func newLimitStage(spec interface{}) (*LimitStage, error) {
	n, ok := wholeNumber(spec)
	if !ok || n <= 0 {
		return nil, query.NewValidationError("stage", "$limit requires a positive integer")
	}
	return &LimitStage{limit: n}, nil
}

func (s *LimitStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	if s.limit >= len(docs) {
		return docs, nil
	}
	return docs[:s.limit], nil
}

func (s *LimitStage) Type() string {
	return "$limit"
}

// SkipStage drops the first n documents
type SkipStage struct {
	skip int
}

func newSkipStage(spec interface{}) (*SkipStage, error) {
	n, ok := wholeNumber(spec)
	if !ok || n < 0 {
		return nil, query.NewValidationError("stage", "$skip requires a non-negative integer")
	}
	return &SkipStage{skip: n}, nil
}

func (s *SkipStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	if s.skip >= len(docs) {
		return []*document.Document{}, nil
	}
	return docs[s.skip:], nil
}

func (s *SkipStage) Type() string {
	return "$skip"
}

// CountStage replaces the stream with a single {field: n} document
type CountStage struct {
	field string
}

func newCountStage(spec interface{}) (*CountStage, error) {
	field, ok := spec.(string)
	if !ok || field == "" || strings.HasPrefix(field, "$") || strings.Contains(field, ".") {
		return nil, query.NewValidationError("stage", "$count requires a plain field name")
	}
	return &CountStage{field: field}, nil
}

func (s *CountStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	if len(docs) == 0 {
		return []*document.Document{}, nil
	}
	out := document.NewDocument()
	out.Set(s.field, int64(len(docs)))
	return []*document.Document{out}, nil
}

func (s *CountStage) Type() string {
	return "$count"
}

// GroupStage partitions documents by the _id expression and reduces each
// partition with its accumulators. Groups are emitted in first-seen order.
type GroupStage struct {
	id     Expression
	names  []string
	fields []Accumulator
}

func newGroupStage(spec interface{}) (*GroupStage, error) {
	groupSpec, ok := spec.(*document.Document)
	if !ok {
		return nil, query.NewValidationError("stage", "$group requires a group specification")
	}

	idSpec, exists := groupSpec.Get(document.IDField)
	if !exists {
		return nil, query.NewValidationError("stage", "$group requires an _id field")
	}
	id, err := CompileExpression(idSpec)
	if err != nil {
		return nil, err
	}

	stage := &GroupStage{id: id}
	for _, name := range groupSpec.Keys() {
		if name == document.IDField {
			continue
		}
		if strings.Contains(name, ".") {
			return nil, query.NewValidationError("stage", "$group field %q cannot contain '.'", name)
		}
		v, _ := groupSpec.Get(name)
		acc, err := compileAccumulator(name, v)
		if err != nil {
			return nil, err
		}
		stage.names = append(stage.names, name)
		stage.fields = append(stage.fields, acc)
	}
	return stage, nil
}

type group struct {
	key    interface{}
	states []*state
}

func (s *GroupStage) Execute(docs []*document.Document) ([]*document.Document, error) {
	groups := make(map[string]*group)
	order := make([]*group, 0)

	for _, doc := range docs {
		key, err := s.id.Evaluate(doc)
		if err != nil {
			return nil, err
		}
		hash, err := groupHash(key)
		if err != nil {
			return nil, err
		}

		g, ok := groups[hash]
		if !ok {
			g = &group{key: key, states: make([]*state, len(s.fields))}
			for i, acc := range s.fields {
				g.states[i] = newState(acc)
			}
			groups[hash] = g
			order = append(order, g)
		}
		for _, st := range g.states {
			if err := st.add(doc); err != nil {
				return nil, err
			}
		}
	}

	result := make([]*document.Document, 0, len(order))
	for _, g := range order {
		out := document.NewDocument()
		out.Set(document.IDField, g.key)
		for i, name := range s.names {
			out.Set(name, g.states[i].result())
		}
		result = append(result, out.Clone())
	}
	return result, nil
}

func (s *GroupStage) Type() string {
	return "$group"
}

// groupHash maps a group key to a string such that keys that compare equal
// (including numbers of different kinds) hash the same
func groupHash(key interface{}) (string, error) {
	if k, ok := document.IDKey(key); ok {
		return k, nil
	}
	wrapper := document.NewDocument()
	wrapper.Set("k", canonicalNumbers(key))
	raw, err := document.Marshal(wrapper)
	if err != nil {
		return "", err
	}
	return "b" + string(raw), nil
}

// canonicalNumbers rewrites integral floats as int64 so 2 and 2.0 group together
func canonicalNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case int32:
		return int64(val)
	case *document.Document:
		out := document.NewDocument()
		for _, k := range val.Keys() {
			item, _ := val.Get(k)
			out.Set(k, canonicalNumbers(item))
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = canonicalNumbers(item)
		}
		return out
	}
	return v
}

// wholeNumber accepts ints and integral floats
func wholeNumber(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case int:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}
