package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/newrelic/nr-catalog-sync/internal/provider/file"
	_ "github.com/newrelic/nr-catalog-sync/internal/provider/gitlab"

	"github.com/spf13/cobra"
)

var configFile string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nr-catalog-sync",
		Short: "Sync provider resources into New Relic catalog entities",
		Long: `nr-catalog-sync fetches resources from a provider, maps them into catalog
entities with the queries of a mapping file, and reconciles the catalog so it
holds exactly the entities the integration produced.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"config file (default configs/config.yaml)",
	)

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newEvalCmd())
	rootCmd.AddCommand(newHistoryCmd())

	return rootCmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
