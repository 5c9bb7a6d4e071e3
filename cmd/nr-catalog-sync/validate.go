package main

import (
	"fmt"

	"github.com/newrelic/nr-catalog-sync/internal/mapping"
	"github.com/newrelic/nr-catalog-sync/internal/sync"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [mapping-file]",
		Short: "Compile every query of a mapping file and report invalid resources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := sync.DEFAULT_MAPPING_FILE
			if len(args) > 0 {
				path = args[0]
			}

			config, err := mapping.LoadFile(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			for _, kind := range config.Kinds() {
				if err := config.KindError(kind); err != nil {
					fmt.Fprintf(out, "%s %s\n", failColor.Sprint("FAIL"), kind)
					continue
				}
				fmt.Fprintf(
					out,
					"%s %s (%d resources)\n",
					okColor.Sprint("OK  "),
					kind,
					len(config.Resources(kind)),
				)
			}

			for _, ce := range config.Invalid {
				fmt.Fprintf(out, "     %s\n", ce)
			}

			if len(config.Invalid) > 0 {
				return fmt.Errorf("%s has %d invalid resources", path, len(config.Invalid))
			}

			return nil
		},
	}
}
