// Package main is the entry point for the prefixsearch service and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configFile string
	envFile    string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "prefixsearch",
		Short:         "Product name autocomplete service",
		Long:          `prefixsearch serves prefix autocomplete over product names, backed by memory, Redis, or Elasticsearch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Path to .env file (default: .env in current directory)")

	cmd.AddCommand(serveCmd(&flags))
	cmd.AddCommand(rebuildCmd(&flags))
	cmd.AddCommand(searchCmd(&flags))
	cmd.AddCommand(versionCmd())

	return cmd
}
