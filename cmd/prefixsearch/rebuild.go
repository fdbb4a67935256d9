package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiges-tech/prefixsearch/internal/catalog"
)

func rebuildCmd(flags *globalFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from the product catalog",
		Long: `Replace the whole index of the configured namespace with the products of the
catalog. Queries keep seeing the previous index until the new one is complete.

The catalog is the configured Postgres database, or a JSON file given with --file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := loadApp(ctx, flags, file == "")
			if err != nil {
				return err
			}
			defer a.Close()

			src := a.catalog
			if file != "" {
				static, err := catalog.LoadFile(file)
				if err != nil {
					return err
				}
				src = static
			}
			if src == nil {
				return errors.New("no catalog configured: set catalog.postgres or pass --file")
			}

			start := time.Now()
			products, err := catalog.Load(ctx, src)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			if err := a.engine.Rebuild(ctx, products); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %q with %d products in %s\n",
				a.cfg.Search.Namespace, len(products), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with an array of products")

	return cmd
}
