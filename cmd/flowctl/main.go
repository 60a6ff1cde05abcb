package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	database string
	remote   string
	user     string
	output   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "flowctl",
		Short:         "Inspect and maintain Flowly planner data",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.database, "database", "", "Local database path (defaults to the server config)")
	flags.StringVar(&opts.remote, "remote", "", "Remote store DSN (defaults to the server config)")
	flags.StringVarP(&opts.user, "user", "u", "", "User id; empty for the anonymous cache")
	flags.StringVarP(&opts.output, "output", "o", "yaml", "Output format (yaml, json)")

	rootCmd.AddCommand(materializeCmd(opts))
	rootCmd.AddCommand(normalizeCmd(opts))
	rootCmd.AddCommand(importLegacyCmd(opts))
	rootCmd.AddCommand(syncCmd(opts))
	rootCmd.AddCommand(createUserCmd(opts))

	return rootCmd
}
