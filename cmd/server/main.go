package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/templui/storeauth/cmd/server/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "storeauth",
		Short:        "Authentication and session service for the storefront",
		SilenceUsage: true,
		RunE:         cmd.RunServe,
	}

	rootCmd.AddCommand(cmd.ServeCmd())
	rootCmd.AddCommand(cmd.MigrateCmd())
	rootCmd.AddCommand(cmd.CleanupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
