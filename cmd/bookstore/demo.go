package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mnohosten/shelfdb/pkg/database"
	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/query"
)

func newDemoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the catalogue walkthrough: queries, aggregations, indexes, explain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			runErr := runDemo(cmd.OutOrStdout(), a.db.Collection(opts.collection))
			if err := a.close(cmd.Context(), runErr == nil); err != nil && runErr == nil {
				return err
			}
			return runErr
		},
	}
}

// ordered builds a document from alternating keys and values
func ordered(kv ...interface{}) *document.Document {
	doc := document.NewDocument()
	for i := 0; i+1 < len(kv); i += 2 {
		doc.Set(kv[i].(string), kv[i+1])
	}
	return doc
}

type demoStep struct {
	title string
	run   func(books *database.Collection) (interface{}, error)
}

func demoSteps() []demoStep {
	find := func(filter interface{}, opts *database.QueryOptions) func(*database.Collection) (interface{}, error) {
		return func(books *database.Collection) (interface{}, error) {
			return books.FindWithOptions(filter, opts)
		}
	}
	aggregate := func(stages ...map[string]interface{}) func(*database.Collection) (interface{}, error) {
		return func(books *database.Collection) (interface{}, error) {
			return books.Aggregate(stages)
		}
	}
	explainTitle := func(books *database.Collection) (interface{}, error) {
		return books.Explain(map[string]interface{}{"title": "The Alchemist"}, nil)
	}

	return []demoStep{
		{"All books", find(nil, nil)},
		{"Sci-Fi books", find(map[string]interface{}{"genre": "Science Fiction"}, nil)},
		{"In stock and published after 2010", find(map[string]interface{}{
			"in_stock":       true,
			"published_year": map[string]interface{}{"$gt": 2010},
		}, nil)},
		{"Title, author and price only", find(nil, &database.QueryOptions{
			Projection: map[string]interface{}{"title": 1, "author": 1, "price": 1, "_id": 0},
		})},
		{"Sorted by price ascending", find(nil, &database.QueryOptions{Sort: []query.SortField{query.Asc("price")}})},
		{"Sorted by price descending", find(nil, &database.QueryOptions{Sort: []query.SortField{query.Desc("price")}})},
		{"Page 2 (5 per page)", find(nil, &database.QueryOptions{Skip: 5, Limit: 5})},
		{"Average price by genre", aggregate(
			map[string]interface{}{"$group": map[string]interface{}{
				"_id":      "$genre",
				"avgPrice": map[string]interface{}{"$avg": "$price"},
			}},
		)},
		{"Author with the most books", aggregate(
			map[string]interface{}{"$group": map[string]interface{}{
				"_id":   "$author",
				"count": map[string]interface{}{"$sum": 1},
			}},
			map[string]interface{}{"$sort": map[string]interface{}{"count": -1}},
			map[string]interface{}{"$limit": 1},
		)},
		{"Books by decade", aggregate(
			map[string]interface{}{"$group": map[string]interface{}{
				"_id": map[string]interface{}{"$concat": []interface{}{
					map[string]interface{}{"$toString": map[string]interface{}{"$multiply": []interface{}{
						map[string]interface{}{"$floor": map[string]interface{}{"$divide": []interface{}{"$published_year", 10}}},
						10,
					}}},
					"s",
				}},
				"count": map[string]interface{}{"$sum": 1},
			}},
		)},
		{"Explain before indexing", explainTitle},
		{"Create index on title", func(books *database.Collection) (interface{}, error) {
			return books.CreateIndex(ordered("title", 1), nil)
		}},
		{"Create compound index", func(books *database.Collection) (interface{}, error) {
			return books.CreateIndex(ordered("author", 1, "published_year", -1), nil)
		}},
		{"Explain", explainTitle},
	}
}

// runDemo executes every step in order and prints its result
func runDemo(w io.Writer, books *database.Collection) error {
	for _, step := range demoSteps() {
		result, err := step.run(books)
		if err != nil {
			return fmt.Errorf("%s: %w", step.title, err)
		}
		fmt.Fprintf(w, "== %s\n", step.title)
		switch v := result.(type) {
		case []*document.Document:
			err = printDocuments(w, v)
		case string:
			_, err = fmt.Fprintln(w, v)
		default:
			err = printJSON(w, v)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}
