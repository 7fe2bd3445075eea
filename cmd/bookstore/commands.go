package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mnohosten/shelfdb/pkg/aggregation"
	"github.com/mnohosten/shelfdb/pkg/database"
	"github.com/mnohosten/shelfdb/pkg/document"
	"github.com/mnohosten/shelfdb/pkg/query"
	"github.com/mnohosten/shelfdb/pkg/server"
)

// queryFlags are the descriptor flags shared by find and explain
type queryFlags struct {
	filter     string
	projection string
	sort       string
	skip       int
	limit      int
}

func (f *queryFlags) register(cmd *cobra.Command, withProjection bool) {
	cmd.Flags().StringVarP(&f.filter, "filter", "f", "{}", "filter document, e.g. '{\"genre\": \"Fantasy\"}'")
	cmd.Flags().StringVarP(&f.sort, "sort", "s", "", "sort document in key order, e.g. '{\"price\": -1}'")
	cmd.Flags().IntVar(&f.skip, "skip", 0, "number of results to skip")
	cmd.Flags().IntVarP(&f.limit, "limit", "l", 0, "maximum number of results (0 for all)")
	if withProjection {
		cmd.Flags().StringVarP(&f.projection, "projection", "p", "", "projection document, e.g. '{\"title\": 1, \"_id\": 0}'")
	}
}

// parse turns the flags into a filter and query options
func (f *queryFlags) parse() (*document.Document, *database.QueryOptions, error) {
	filter, err := parseDocumentFlag("filter", f.filter)
	if err != nil {
		return nil, nil, err
	}
	opts := &database.QueryOptions{Skip: f.skip, Limit: f.limit}
	if f.projection != "" {
		projection, err := parseDocumentFlag("projection", f.projection)
		if err != nil {
			return nil, nil, err
		}
		opts.Projection = projection
	}
	if f.sort != "" {
		spec, err := parseDocumentFlag("sort", f.sort)
		if err != nil {
			return nil, nil, err
		}
		if opts.Sort, err = query.ParseSort(spec); err != nil {
			return nil, nil, err
		}
	}
	return filter, opts, nil
}

func parseDocumentFlag(name, raw string) (*document.Document, error) {
	doc, err := document.ParseJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return doc, nil
}

func newFindCmd(opts *options) *cobra.Command {
	flags := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find documents matching a filter",
		Example: `  bookstore find -f '{"in_stock": true, "published_year": {"$gt": 2010}}'
  bookstore find -p '{"title": 1, "price": 1, "_id": 0}' -s '{"price": -1}' -l 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, qopts, err := flags.parse()
			if err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context(), false)

			docs, err := a.db.Collection(opts.collection).FindWithOptions(filter, qopts)
			if err != nil {
				return err
			}
			return printDocuments(cmd.OutOrStdout(), docs)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newExplainCmd(opts *options) *cobra.Command {
	flags := &queryFlags{}
	var indexes []string
	cmd := &cobra.Command{
		Use:     "explain",
		Short:   "Show the plan a query would use",
		Example: `  bookstore explain -f '{"title": "The Alchemist"}' --index '{"title": 1}'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, qopts, err := flags.parse()
			if err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context(), false)

			coll := a.db.Collection(opts.collection)
			for _, raw := range indexes {
				spec, err := parseDocumentFlag("index", raw)
				if err != nil {
					return err
				}
				if _, err := coll.CreateIndex(spec, nil); err != nil {
					return err
				}
			}
			res, err := coll.Explain(filter, qopts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	flags.register(cmd, false)
	cmd.Flags().StringArrayVar(&indexes, "index", nil, "index key document to create before explaining (repeatable)")
	return cmd
}

func newAggregateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "aggregate PIPELINE",
		Short:   "Run an aggregation pipeline given as a JSON array of stages",
		Example: `  bookstore aggregate '[{"$group": {"_id": "$genre", "avgPrice": {"$avg": "$price"}}}]'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := parsePipeline(args[0])
			if err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context(), false)

			docs, err := a.db.Collection(opts.collection).AggregatePipeline(pipeline)
			if err != nil {
				return err
			}
			return printDocuments(cmd.OutOrStdout(), docs)
		},
	}
}

// parsePipeline decodes a JSON stage list keeping each stage's key order
func parsePipeline(raw string) (*aggregation.Pipeline, error) {
	v, err := document.ParseJSONValue([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("pipeline must be a JSON array of stages")
	}
	stages := make([]*document.Document, len(items))
	for i, item := range items {
		if stages[i], ok = item.(*document.Document); !ok {
			return nil, fmt.Errorf("pipeline stage %d must be an object", i)
		}
	}
	return aggregation.ParsePipeline(stages)
}

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and collection statistics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = opts.config.Server.Addr
			}

			srv, err := server.New(a.db, &server.Config{
				Addr:          addr,
				EnableLogging: true,
				Logger:        a.logger,
				Gatherer:      a.registry,
				SlowQueryLog:  a.slow,
			})
			if err != nil {
				a.close(cmd.Context(), false)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			serveErr := srv.Start(ctx)
			if err := a.close(cmd.Context(), true); err != nil {
				a.logger.Error("closing database", "err", err)
			}
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// printDocuments writes one JSON document per line
func printDocuments(w io.Writer, docs []*document.Document) error {
	for _, doc := range docs {
		raw, err := doc.MarshalJSON()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", raw); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", raw)
	return err
}
