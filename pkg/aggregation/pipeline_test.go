package aggregation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/query"
)

func shelf() []*document.Document {
	rows := []struct {
		title  string
		author string
		genre  string
		year   int
		price  float64
	}{
		{"The Left Hand of Darkness", "Ursula K. Le Guin", "Science Fiction", 1969, 12.5},
		{"Dune", "Frank Herbert", "Science Fiction", 1965, 9.99},
		{"The Dispossessed", "Ursula K. Le Guin", "Science Fiction", 1974, 11.0},
		{"Beloved", "Toni Morrison", "Fiction", 1987, 14.0},
		{"A Wizard of Earthsea", "Ursula K. Le Guin", "Fantasy", 1968, 8.5},
		{"Song of Solomon", "Toni Morrison", "Fiction", 1977, 13.0},
	}
	docs := make([]*document.Document, len(rows))
	for i, r := range rows {
		d := document.NewDocument()
		d.Set(document.IDField, int64(i+1))
		d.Set("title", r.title)
		d.Set("author", r.author)
		d.Set("genre", r.genre)
		d.Set("published_year", r.year)
		d.Set("price", r.price)
		docs[i] = d
	}
	return docs
}

func run(t *testing.T, stages []map[string]interface{}, docs []*document.Document) []*document.Document {
	t.Helper()
	p, err := NewPipeline(stages)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	out, err := p.Execute(docs)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return out
}

func column(docs []*document.Document, field string) string {
	out := make([]interface{}, len(docs))
	for i, d := range docs {
		out[i], _ = d.GetPath(field)
	}
	return fmt.Sprint(out)
}

func TestMatchStage(t *testing.T) {
	out := run(t, []map[string]interface{}{
		{"$match": map[string]interface{}{"published_year": map[string]interface{}{"$gte": 1970}}},
	}, shelf())
	if got := column(out, "title"); got != "[The Dispossessed Beloved Song of Solomon]" {
		t.Errorf("Unexpected match result %s", got)
	}
}

func TestProjectStage(t *testing.T) {
	docs := shelf()

	t.Run("include", func(t *testing.T) {
		out := run(t, []map[string]interface{}{{"$project": map[string]interface{}{"title": 1, "author": true}}}, docs)
		if keys := strings.Join(out[0].Keys(), ","); keys != "_id,author,title" {
			t.Errorf("Expected _id,author,title, got %s", keys)
		}
	})

	t.Run("exclude", func(t *testing.T) {
		out := run(t, []map[string]interface{}{{"$project": map[string]interface{}{"price": 0, "_id": 0}}}, docs)
		if keys := strings.Join(out[0].Keys(), ","); keys != "title,author,genre,published_year" {
			t.Errorf("Unexpected fields %s", keys)
		}
	})

	t.Run("computed", func(t *testing.T) {
		out := run(t, []map[string]interface{}{{"$project": map[string]interface{}{
			"_id":      0,
			"title":    1,
			"label":    map[string]interface{}{"$toUpper": "$author"},
			"discount": map[string]interface{}{"$multiply": []interface{}{"$price", 0.5}},
		}}}, docs)
		if label, _ := out[1].Get("label"); label != "FRANK HERBERT" {
			t.Errorf("Expected FRANK HERBERT, got %v", label)
		}
		if d, _ := out[4].Get("discount"); d != 4.25 {
			t.Errorf("Expected 4.25, got %v", d)
		}
		if _, ok := out[0].Get(document.IDField); ok {
			t.Error("Expected _id to be excluded")
		}
	})

	t.Run("computed id", func(t *testing.T) {
		out := run(t, []map[string]interface{}{{"$project": map[string]interface{}{"_id": "$title"}}}, docs)
		if id, _ := out[1].Get(document.IDField); id != "Dune" || out[1].Len() != 1 {
			t.Errorf("Unexpected computed id document %s", out[1])
		}
	})

	t.Run("input untouched", func(t *testing.T) {
		run(t, []map[string]interface{}{{"$project": map[string]interface{}{"price": 0}}}, docs)
		if _, ok := docs[0].Get("price"); !ok {
			t.Error("$project modified its input")
		}
	})
}

func TestSortSkipLimit(t *testing.T) {
	docs := shelf()

	out := run(t, []map[string]interface{}{
		{"$sort": map[string]interface{}{"price": -1}},
		{"$skip": 1},
		{"$limit": 2},
	}, docs)
	if got := column(out, "title"); got != "[Song of Solomon The Left Hand of Darkness]" {
		t.Errorf("Unexpected page %s", got)
	}
	if got := column(docs, "title"); !strings.HasPrefix(got, "[The Left Hand of Darkness Dune") {
		t.Errorf("$sort reordered its input: %s", got)
	}

	out = run(t, []map[string]interface{}{
		{"$sort": []interface{}{
			map[string]interface{}{"author": 1},
			map[string]interface{}{"published_year": -1},
		}},
	}, docs)
	if got := column(out, "published_year"); got != "[1965 1987 1977 1974 1969 1968]" {
		t.Errorf("Unexpected two-key order %s", got)
	}

	out = run(t, []map[string]interface{}{{"$skip": 10}}, docs)
	if len(out) != 0 {
		t.Errorf("Expected no documents past the end, got %d", len(out))
	}
	out = run(t, []map[string]interface{}{{"$limit": 100}}, docs)
	if len(out) != len(docs) {
		t.Errorf("Expected %d documents, got %d", len(docs), len(out))
	}
}

func TestOrderedSortDocument(t *testing.T) {
	sortSpec := document.NewDocument()
	sortSpec.Set("genre", 1)
	sortSpec.Set("price", -1)
	stage := document.NewDocument()
	stage.Set("$sort", sortSpec)

	p, err := ParsePipeline([]*document.Document{stage})
	if err != nil {
		t.Fatalf("ParsePipeline failed: %v", err)
	}
	out, err := p.Execute(shelf())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := column(out, "price"); got != "[8.5 14 13 12.5 11 9.99]" {
		t.Errorf("Unexpected order %s", got)
	}
}

func TestGroupStage(t *testing.T) {
	docs := shelf()

	t.Run("first-seen order", func(t *testing.T) {
		out := run(t, []map[string]interface{}{
			{"$group": map[string]interface{}{"_id": "$genre", "n": map[string]interface{}{"$count": map[string]interface{}{}}}},
		}, docs)
		if got := column(out, "_id"); got != "[Science Fiction Fiction Fantasy]" {
			t.Errorf("Unexpected group order %s", got)
		}
		if got := column(out, "n"); got != "[3 2 1]" {
			t.Errorf("Unexpected counts %s", got)
		}
		if n, _ := out[0].Get("n"); n != int64(3) {
			t.Errorf("Expected int64 count, got %T", n)
		}
	})

	t.Run("accumulators", func(t *testing.T) {
		out := run(t, []map[string]interface{}{
			{"$group": map[string]interface{}{
				"_id":    "$author",
				"books":  map[string]interface{}{"$sum": 1},
				"years":  map[string]interface{}{"$sum": "$published_year"},
				"avg":    map[string]interface{}{"$avg": "$price"},
				"min":    map[string]interface{}{"$min": "$published_year"},
				"max":    map[string]interface{}{"$max": "$price"},
				"first":  map[string]interface{}{"$first": "$title"},
				"last":   map[string]interface{}{"$last": "$title"},
				"titles": map[string]interface{}{"$push": "$title"},
			}},
		}, docs)
		if len(out) != 3 {
			t.Fatalf("Expected 3 groups, got %d", len(out))
		}
		leGuin := out[0]
		if id, _ := leGuin.Get("_id"); id != "Ursula K. Le Guin" {
			t.Fatalf("Expected Le Guin first, got %v", id)
		}
		if v, _ := leGuin.Get("books"); v != int64(3) {
			t.Errorf("Expected books 3, got %#v", v)
		}
		if v, _ := leGuin.Get("years"); v != int64(1969+1974+1968) {
			t.Errorf("Expected int64 year sum, got %#v", v)
		}
		if v, _ := leGuin.Get("avg"); math.Abs(v.(float64)-32.0/3) > 1e-9 {
			t.Errorf("Expected avg %v, got %v", 32.0/3, v)
		}
		if v, _ := leGuin.Get("min"); v != int64(1968) {
			t.Errorf("Expected min 1968, got %v", v)
		}
		if v, _ := leGuin.Get("max"); v != 12.5 {
			t.Errorf("Expected max 12.5, got %v", v)
		}
		if v, _ := leGuin.Get("first"); v != "The Left Hand of Darkness" {
			t.Errorf("Unexpected first %v", v)
		}
		if v, _ := leGuin.Get("last"); v != "A Wizard of Earthsea" {
			t.Errorf("Unexpected last %v", v)
		}
		if v, _ := leGuin.Get("titles"); fmt.Sprint(v) != "[The Left Hand of Darkness The Dispossessed A Wizard of Earthsea]" {
			t.Errorf("Unexpected titles %v", v)
		}
	})

	t.Run("null key collects absent fields", func(t *testing.T) {
		out := run(t, []map[string]interface{}{
			{"$group": map[string]interface{}{"_id": "$series", "total": map[string]interface{}{"$sum": "$price"}}},
		}, docs)
		if len(out) != 1 {
			t.Fatalf("Expected a single group, got %d", len(out))
		}
		if id, ok := out[0].Get("_id"); !ok || id != nil {
			t.Errorf("Expected null key, got %v", id)
		}
	})

	t.Run("numeric keys of different kinds", func(t *testing.T) {
		mixed := []*document.Document{
			document.NewDocumentFromMap(map[string]interface{}{"k": 2}),
			document.NewDocumentFromMap(map[string]interface{}{"k": 2.0}),
			document.NewDocumentFromMap(map[string]interface{}{"k": int32(2)}),
			document.NewDocumentFromMap(map[string]interface{}{"k": 2.5}),
		}
		out := run(t, []map[string]interface{}{{"$group": map[string]interface{}{"_id": "$k"}}}, mixed)
		if len(out) != 2 {
			t.Errorf("Expected 2 groups, got %d", len(out))
		}
	})

	t.Run("compound key", func(t *testing.T) {
		out := run(t, []map[string]interface{}{
			{"$group": map[string]interface{}{
				"_id": map[string]interface{}{
					"author": "$author",
					"decade": map[string]interface{}{"$multiply": []interface{}{
						map[string]interface{}{"$floor": map[string]interface{}{"$divide": []interface{}{"$published_year", 10}}},
						10,
					}},
				},
				"n": map[string]interface{}{"$sum": 1},
			}},
		}, docs)
		if len(out) != 5 {
			t.Fatalf("Expected 5 groups, got %d", len(out))
		}
		if got := column(out, "_id.decade"); got != "[1960 1960 1970 1980 1970]" {
			t.Errorf("Unexpected decades %s", got)
		}
		if got := column(out, "n"); got != "[2 1 1 1 1]" {
			t.Errorf("Unexpected counts %s", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		out := run(t, []map[string]interface{}{{"$group": map[string]interface{}{"_id": "$genre"}}}, nil)
		if len(out) != 0 {
			t.Errorf("Expected no groups, got %d", len(out))
		}
	})

	t.Run("evaluation error", func(t *testing.T) {
		p, err := NewPipeline([]map[string]interface{}{
			{"$group": map[string]interface{}{"_id": map[string]interface{}{"$add": []interface{}{"$title", 1}}}},
		})
		if err != nil {
			t.Fatalf("NewPipeline failed: %v", err)
		}
		if _, err := p.Execute(docs); !errors.Is(err, ErrEvaluation) {
			t.Errorf("Expected EvaluationError, got %v", err)
		}
	})
}

func TestCountStage(t *testing.T) {
	out := run(t, []map[string]interface{}{
		{"$match": map[string]interface{}{"genre": "Science Fiction"}},
		{"$count": "scifi"},
	}, shelf())
	if len(out) != 1 {
		t.Fatalf("Expected one document, got %d", len(out))
	}
	if n, _ := out[0].Get("scifi"); n != int64(3) {
		t.Errorf("Expected 3, got %#v", n)
	}

	out = run(t, []map[string]interface{}{
		{"$match": map[string]interface{}{"genre": "Poetry"}},
		{"$count": "n"},
	}, shelf())
	if len(out) != 0 {
		t.Errorf("Expected no output for empty input, got %d", len(out))
	}
}

func TestMultiStagePipeline(t *testing.T) {
	out := run(t, []map[string]interface{}{
		{"$match": map[string]interface{}{"price": map[string]interface{}{"$lt": 14}}},
		{"$group": map[string]interface{}{"_id": "$genre", "avg_price": map[string]interface{}{"$avg": "$price"}}},
		{"$sort": map[string]interface{}{"avg_price": -1}},
		{"$project": map[string]interface{}{"_id": 0, "genre": "$_id", "avg_price": 1}},
	}, shelf())
	if got := column(out, "genre"); got != "[Fiction Science Fiction Fantasy]" {
		t.Errorf("Unexpected genres %s", got)
	}
	if _, ok := out[0].Get(document.IDField); ok {
		t.Error("Expected _id to be projected away")
	}
}

func TestSplitLeadingMatch(t *testing.T) {
	p, err := NewPipeline([]map[string]interface{}{
		{"$match": map[string]interface{}{"author": "Toni Morrison"}},
		{"$sort": map[string]interface{}{"published_year": 1}},
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	match, rest := p.SplitLeadingMatch()
	if match == nil || match.Filter() == nil {
		t.Fatal("Expected a leading $match")
	}
	if len(rest.Stages()) != 1 || rest.Stages()[0].Type() != "$sort" {
		t.Errorf("Unexpected remaining stages %v", rest.Stages())
	}
	if len(p.Stages()) != 2 {
		t.Error("SplitLeadingMatch modified the pipeline")
	}

	noMatch := NewPipelineFromStages(rest.Stages()...)
	if m, same := noMatch.SplitLeadingMatch(); m != nil || same != noMatch {
		t.Error("Expected no leading $match")
	}
}

func TestPipelineValidation(t *testing.T) {
	tests := []struct {
		name   string
		stages []map[string]interface{}
	}{
		{"unknown stage", []map[string]interface{}{{"$unwind": "$tags"}}},
		{"two keys", []map[string]interface{}{{"$skip": 1, "$limit": 1}}},
		{"empty stage", []map[string]interface{}{{}}},
		{"multi-key sort map", []map[string]interface{}{{"$sort": map[string]interface{}{"a": 1, "b": -1}}}},
		{"empty sort", []map[string]interface{}{{"$sort": map[string]interface{}{}}}},
		{"bad sort direction", []map[string]interface{}{{"$sort": map[string]interface{}{"a": 0}}}},
		{"zero limit", []map[string]interface{}{{"$limit": 0}}},
		{"fractional limit", []map[string]interface{}{{"$limit": 1.5}}},
		{"negative skip", []map[string]interface{}{{"$skip": -1}}},
		{"match not a document", []map[string]interface{}{{"$match": "x"}}},
		{"match bad operator", []map[string]interface{}{{"$match": map[string]interface{}{"a": map[string]interface{}{"$regex": "x"}}}}},
		{"group without id", []map[string]interface{}{{"$group": map[string]interface{}{"n": map[string]interface{}{"$sum": 1}}}}},
		{"group unknown accumulator", []map[string]interface{}{{"$group": map[string]interface{}{"_id": nil, "n": map[string]interface{}{"$median": "$x"}}}}},
		{"group dotted field", []map[string]interface{}{{"$group": map[string]interface{}{"_id": nil, "a.b": map[string]interface{}{"$sum": 1}}}}},
		{"group bare value", []map[string]interface{}{{"$group": map[string]interface{}{"_id": nil, "n": 1}}}},
		{"project mixed", []map[string]interface{}{{"$project": map[string]interface{}{"title": 1, "price": 0}}}},
		{"project computed with exclusion", []map[string]interface{}{{"$project": map[string]interface{}{"price": 0, "x": "$title"}}}},
		{"project empty", []map[string]interface{}{{"$project": map[string]interface{}{}}}},
		{"project bad expression", []map[string]interface{}{{"$project": map[string]interface{}{"x": map[string]interface{}{"$nope": 1}}}}},
		{"count empty name", []map[string]interface{}{{"$count": ""}}},
		{"count dotted name", []map[string]interface{}{{"$count": "a.b"}}},
		{"count not a string", []map[string]interface{}{{"$count": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPipeline(tt.stages); !errors.Is(err, query.ErrValidation) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}

	if _, err := ParsePipeline([]*document.Document{nil}); !errors.Is(err, query.ErrValidation) {
		t.Errorf("Expected ValidationError for a nil stage, got %v", err)
	}
}
