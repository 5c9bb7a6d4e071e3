package main

import (
	"fmt"

	"github.com/newrelic/nr-catalog-sync/internal/history"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var db string

	cmd := &cobra.Command{
		Use:   "history [kind]",
		Short: "Show the latest recorded sync passes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if db == "" {
				db = historyPathFromConfig()
			}

			store, err := history.Open(db)
			if err != nil {
				return err
			}
			defer store.Close()

			kind := ""
			if len(args) > 0 {
				kind = args[0]
			}

			passes, err := store.Recent(cmd.Context(), kind, limit)
			if err != nil {
				return err
			}

			printHistory(cmd.OutOrStdout(), passes)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of passes to show")
	cmd.Flags().StringVar(&db, "db", "", "history database (default history.path of the config)")

	return cmd
}

// historyPathFromConfig reads history.path without building the clients
// a sync needs.
func historyPathFromConfig() string {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	v.SetDefault("history.path", "nr-catalog-sync.db")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("no config read, using default history path: %s\n", err)
	}

	return v.GetString("history.path")
}
