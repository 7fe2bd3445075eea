package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// options carries the persistent flags and the loaded configuration to
// every subcommand
type options struct {
	configPath string
	collection string
	config     Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "bookstore",
		Short: "Query and aggregate the bookstore catalogue with shelfdb",
		Long: `bookstore loads the books catalogue into an embedded shelfdb database
and runs filters, projections, sorts and aggregation pipelines over it.
Descriptors are given as JSON documents.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			opts.config = applyEnv(cfg)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "bookstore.yaml", "path to the YAML configuration")
	rootCmd.PersistentFlags().StringVarP(&opts.collection, "collection", "c", booksCollection, "collection to operate on")

	rootCmd.AddCommand(
		newDemoCmd(opts),
		newFindCmd(opts),
		newAggregateCmd(opts),
		newExplainCmd(opts),
		newServeCmd(opts),
		newImportCmd(opts),
		newExportCmd(opts),
	)
	return rootCmd
}

// open builds the app for one command run, logging to the command's stderr
func (o *options) open(cmd *cobra.Command) (*app, error) {
	logger, err := newLogger(o.config.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return openApp(cmd.Context(), o.config, logger)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
