package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnohosten/shelfdb/pkg/impex"
)

// resolveFormat prefers the explicit flag, then the file extension
func resolveFormat(flag, path string, fallback impex.Format) (impex.Format, error) {
	if flag != "" {
		return impex.ParseFormat(flag)
	}
	if path == "" || path == "-" {
		return fallback, nil
	}
	return impex.FormatFromPath(path)
}

func newImportCmd(opts *options) *cobra.Command {
	var (
		format  string
		headers []string
		drop    bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load documents from a JSON, NDJSON or CSV file ('-' for stdin)",
		Example: `  bookstore import more-books.ndjson
  bookstore import --format csv --drop -c shelf shelf.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := resolveFormat(format, args[0], "")
			if err != nil {
				return err
			}
			if f == "" {
				return errors.New("--format is required when reading stdin")
			}

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				r = file
			}
			docs, err := impex.Import(r, f, &impex.Options{Headers: headers})
			if err != nil {
				return fmt.Errorf("importing %s: %w", args[0], err)
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			if drop {
				// a missing collection is fine here
				_ = a.db.DropCollection(opts.collection)
			}
			coll := a.db.Collection(opts.collection)
			for i, doc := range docs {
				if _, err := coll.InsertDocument(doc); err != nil {
					a.close(cmd.Context(), false)
					return fmt.Errorf("document %d: %w", i, err)
				}
			}
			a.logger.Info("imported documents", "collection", opts.collection, "documents", len(docs))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d documents into %s\n", len(docs), opts.collection)
			return a.close(cmd.Context(), true)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "json, ndjson or csv (default from the file extension)")
	cmd.Flags().StringSliceVar(&headers, "headers", nil, "CSV column names when the file has no header row")
	cmd.Flags().BoolVar(&drop, "drop", false, "drop the collection before importing")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var (
		flags  queryFlags
		format string
		fields []string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write matching documents as JSON, NDJSON or CSV (stdout by default)",
		Example: `  bookstore export --format csv --fields title,author,price -f '{"in_stock": true}'
  bookstore export books.json --pretty`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			f, err := resolveFormat(format, path, impex.FormatNDJSON)
			if err != nil {
				return err
			}
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

			w := cmd.OutOrStdout()
			if path != "" && path != "-" {
				file, err := os.Create(path)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			if err := impex.Export(w, docs, f, &impex.Options{Fields: fields, Pretty: pretty}); err != nil {
				return fmt.Errorf("exporting: %w", err)
			}
			a.logger.Info("exported documents", "collection", opts.collection, "documents", len(docs), "format", f)
			return nil
		},
	}
	flags.register(cmd, true)
	cmd.Flags().StringVar(&format, "format", "", "json, ndjson or csv (default from the file extension, ndjson on stdout)")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "CSV columns as dot paths (default every top-level field)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON array output")
	return cmd
}
