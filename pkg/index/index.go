package index

import (
	"fmt"
	"sort"

	"github.com/mnohosten/shelfdb/pkg/document"
)

// maxPointPrefixes caps the number of key prefixes an $in lookup may expand
// into across compound fields
const maxPointPrefixes = 1024

// Record is the view of a stored document the index layer works with: its
// identity key, its insertion sequence and its contents
type Record struct {
	ID  string
	Seq uint64
	Doc *document.Document
}

// Posting is one document reference under an index key
type Posting struct {
	Seq uint64
	ID  string
}

type entry struct {
	key      CompositeKey
	postings []Posting // ordered by Seq
}

// IndexConfig holds configuration for creating an index
type IndexConfig struct {
	Name   string
	Fields []KeyField
	Unique bool
}

// Index is an ordered mapping from composite key to the documents sharing
// that key. Entries are kept sorted under the declared field directions and
// postings within an entry are kept in insertion order.
type Index struct {
	name    string
	fields  []KeyField
	unique  bool
	entries []*entry
	size    int
}

// NewIndex creates an empty index
func NewIndex(config IndexConfig) (*Index, error) {
	if err := validateFields(config.Fields); err != nil {
		return nil, err
	}
	fields := make([]KeyField, len(config.Fields))
	copy(fields, config.Fields)

	name := config.Name
	if name == "" {
		name = Name(fields)
	}
	return &Index{
		name:   name,
		fields: fields,
		unique: config.Unique,
	}, nil
}

// Name returns the index name
func (idx *Index) Name() string {
	return idx.name
}

// Fields returns the key fields in declaration order
func (idx *Index) Fields() []KeyField {
	return idx.fields
}

// IsCompound returns true if this index covers more than one field
func (idx *Index) IsCompound() bool {
	return len(idx.fields) > 1
}

// IsUnique returns whether this is a unique index
func (idx *Index) IsUnique() bool {
	return idx.unique
}

// Size returns the number of postings in the index
func (idx *Index) Size() int {
	return idx.size
}

// search returns the position of the first entry not less than key
func (idx *Index) search(key CompositeKey) int {
	return sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].key.Compare(key, idx.fields) >= 0
	})
}

func (idx *Index) insert(rec Record) error {
	key := ExtractKey(rec.Doc, idx.fields)
	pos := idx.search(key)

	if pos < len(idx.entries) && idx.entries[pos].key.Compare(key, idx.fields) == 0 {
		e := idx.entries[pos]
		if idx.unique {
			for _, p := range e.postings {
				if p.ID != rec.ID {
					return fmt.Errorf("%w: index %s key %v", ErrDuplicateKey, idx.name, key)
				}
			}
		}
		i := sort.Search(len(e.postings), func(i int) bool { return e.postings[i].Seq >= rec.Seq })
		e.postings = append(e.postings, Posting{})
		copy(e.postings[i+1:], e.postings[i:])
		e.postings[i] = Posting{Seq: rec.Seq, ID: rec.ID}
		idx.size++
		return nil
	}

	idx.entries = append(idx.entries, nil)
	copy(idx.entries[pos+1:], idx.entries[pos:])
	idx.entries[pos] = &entry{key: key, postings: []Posting{{Seq: rec.Seq, ID: rec.ID}}}
	idx.size++
	return nil
}

func (idx *Index) remove(rec Record) bool {
	key := ExtractKey(rec.Doc, idx.fields)
	pos := idx.search(key)
	if pos >= len(idx.entries) || idx.entries[pos].key.Compare(key, idx.fields) != 0 {
		return false
	}

	e := idx.entries[pos]
	for i, p := range e.postings {
		if p.ID != rec.ID {
			continue
		}
		e.postings = append(e.postings[:i], e.postings[i+1:]...)
		idx.size--
		if len(e.postings) == 0 {
			idx.entries = append(idx.entries[:pos], idx.entries[pos+1:]...)
		}
		return true
	}
	return false
}

// plan works out how far the bounds can be pushed into this index: the
// equality prefixes to seek and an optional range on the field after them.
// score is 0 when the index cannot serve the bounds.
func (idx *Index) plan(bounds map[string]Bound) (prefixes [][]interface{}, rng *Bound, score int) {
	prefixes = [][]interface{}{{}}
	for _, f := range idx.fields {
		b, ok := bounds[f.Path]
		if !ok {
			break
		}
		if b.HasPoints {
			if len(prefixes)*len(b.Points) > maxPointPrefixes {
				break
			}
			expanded := make([][]interface{}, 0, len(prefixes)*len(b.Points))
			for _, p := range prefixes {
				for _, point := range b.Points {
					next := make([]interface{}, len(p), len(p)+1)
					copy(next, p)
					expanded = append(expanded, append(next, point))
				}
			}
			prefixes = expanded
			score += 2
			continue
		}
		if b.HasLower || b.HasUpper {
			bound := b
			rng = &bound
			score++
		}
		break
	}
	return prefixes, rng, score
}

// scan collects the postings matching the given prefixes and range. The
// second result is the number of index entries examined.
func (idx *Index) scan(prefixes [][]interface{}, rng *Bound) ([]Posting, int) {
	var postings []Posting
	examined := 0
	for _, prefix := range prefixes {
		start := 0
		if len(prefix) > 0 {
			start = idx.search(CompositeKey{Values: prefix})
		}
		for i := start; i < len(idx.entries); i++ {
			e := idx.entries[i]
			if !e.key.MatchesPrefix(prefix) {
				break
			}
			examined++
			if rng != nil && !rng.Contains(e.key.Values[len(prefix)]) {
				continue
			}
			postings = append(postings, e.postings...)
		}
	}
	return postings, examined
}

// ordered returns every posting in key order, or reverse key order. Postings
// sharing a key stay in insertion order either way.
func (idx *Index) ordered(reverse bool) []Posting {
	postings := make([]Posting, 0, idx.size)
	if !reverse {
		for _, e := range idx.entries {
			postings = append(postings, e.postings...)
		}
		return postings
	}
	for i := len(idx.entries) - 1; i >= 0; i-- {
		postings = append(postings, idx.entries[i].postings...)
	}
	return postings
}

// Info describes an index for listing and diagnostics
type Info struct {
	Name         string     `json:"name"`
	Fields       []KeyField `json:"fields"`
	Unique       bool       `json:"unique"`
	Entries      int        `json:"entries"`
	DistinctKeys int        `json:"distinctKeys"`
}

// Info returns the index description and statistics
func (idx *Index) Info() Info {
	return Info{
		Name:         idx.name,
		Fields:       idx.fields,
		Unique:       idx.unique,
		Entries:      idx.size,
		DistinctKeys: len(idx.entries),
	}
}
