package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "storefront",
		Short:   "Storefront API server and maintenance commands",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// real env vars win over .env
			_ = godotenv.Load(".env")
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(consumeCmd())
	rootCmd.AddCommand(pruneSessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
