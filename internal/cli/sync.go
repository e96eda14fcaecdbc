package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/ingest"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	FromOutbox  bool
	Drain       bool
	BatchSize   int
	MetricsAddr string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ingest queued objects",
		Long: `Ingest objects waiting in a local queue.

With --from-outbox one batch of outbox entries is ingested, oldest first,
followed by a retry sweep of deferred objects. --drain keeps going in
passes until a pass ingests nothing.

Examples:
  wofi sync --from-outbox
  wofi sync --from-outbox --drain --batch-size 200`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.FromOutbox, "from-outbox", false, "ingest pending outbox entries")
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "repeat passes until the outbox stops making progress")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "entries per batch (default from WOFI_INDEXER_BATCH_SIZE)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if !opts.FromOutbox {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, "no source selected: pass --from-outbox", nil)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()
	a.serveMetrics(ctx, firstNonEmpty(opts.MetricsAddr, a.cfg.MetricsAddr))

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = a.cfg.BatchSize
	}

	ing := a.ingester()
	var stats ingest.SyncStats
	if opts.Drain {
		stats, err = ing.DrainOutbox(ctx, batchSize)
	} else {
		stats, err = ing.SyncOutbox(ctx, batchSize)
	}
	if err != nil && !isCanceled(err) {
		return WrapExitError(ExitCommandError, "outbox sync failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(stats)
	}
	fmt.Fprintf(formatter.Writer, "Processed %d: %d ingested, %d deferred, %d failed, %d retried (%d batch(es))\n",
		stats.Processed, stats.Ingested, stats.Deferred, stats.Failed, stats.Retried, stats.Batches)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
