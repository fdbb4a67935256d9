package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func searchCmd(flags *globalFlags) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "search <prefix>",
		Short: "Print one page of names matching a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := loadApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.engine.Search(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Page size (0 selects the configured default)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of matching entries to skip")

	return cmd
}
