package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/nr-catalog-sync/internal/history"
	"github.com/newrelic/nr-catalog-sync/internal/sync"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
	"github.com/newrelic/nr-catalog-sync/pkg/interop"
	"github.com/spf13/cobra"
)

type syncOptions struct {
	dryRun   bool
	interval time.Duration
	watch    bool

	// maxPasses stops an interval loop after that many passes; 0 never stops.
	maxPasses int
}

func newSyncCmd() *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync [kind...]",
		Short: "Run a sync pass for the given kinds, or every mapped kind",
		Long: `Run a sync pass for each kind. Without kinds every kind of the mapping file
is synced. With --interval the passes repeat until interrupted, and with
--watch changes to the mapping file apply from the next pass on.

Examples:
  # sync every kind once
  nr-catalog-sync sync

  # preview the writes a project sync would make
  nr-catalog-sync sync project --dry-run

  # sync every 15 minutes, picking up mapping changes
  nr-catalog-sync sync --interval 15m --watch
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSync(ctx, cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report the catalog writes without applying them")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "repeat the sync with this period")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload the mapping file when it changes")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, opts *syncOptions, kinds []string) error {
	i, err := interop.NewInteroperability(configFile)
	if err != nil {
		return fmt.Errorf("failed to create interop: %w", err)
	}

	defer i.Shutdown()

	syncer, err := sync.FromInterop(i, i.Catalog)
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	if i.Config.GetBool("history.enabled") && !opts.dryRun {
		store, err := history.Open(historyPath(i))
		if err != nil {
			return err
		}
		defer store.Close()

		syncer.Recorder = store
	}

	if opts.watch {
		go func() {
			if err := syncer.Mappings().Watch(ctx); err != nil {
				i.Logger.Errorf("mapping watch stopped: %s", err)
			}
		}()
	}

	return runPasses(ctx, cmd.OutOrStdout(), syncer, i.Catalog, opts, kinds)
}

// runPasses syncs kinds once, or every opts.interval until ctx ends. A dry
// run previews each pass against its own copy of the live catalog.
func runPasses(
	ctx context.Context,
	out io.Writer,
	syncer *sync.Syncer,
	live catalog.Reader,
	opts *syncOptions,
	kinds []string,
) error {
	for pass := 1; ; pass++ {
		var dryRun *catalog.DryRun

		s := syncer
		if opts.dryRun {
			dryRun = catalog.NewDryRun(live)
			s = syncer.WithCatalog(dryRun)
		}

		results := s.SyncAll(ctx, kinds...)
		printReport(out, results)

		if dryRun != nil {
			printOps(out, dryRun.Ops())
		}

		if opts.interval <= 0 || pass == opts.maxPasses {
			return failedKinds(results)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.interval):
		}
	}
}

func historyPath(i *interop.Interop) string {
	path := i.Config.GetString("history.path")
	if path == "" {
		path = "nr-catalog-sync.db"
	}
	return path
}

func failedKinds(results []*sync.SyncPassResult) error {
	failed := 0
	for _, r := range results {
		if !r.Success() {
			failed += 1
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d kinds did not sync cleanly", failed, len(results))
	}
	return nil
}
