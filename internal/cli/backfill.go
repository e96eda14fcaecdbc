package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/ingest"
)

// BackfillCommandOptions holds flags for the backfill command.
type BackfillCommandOptions struct {
	*RootOptions
	Types       []string
	From        string
	Source      string
	BatchSize   int
	MetricsAddr string
}

// BackfillReport is the backfill command's output.
type BackfillReport struct {
	Source  string                 `json:"source"`
	Gateway string                 `json:"gateway"`
	Types   []ingest.BackfillStats `json:"types"`
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillCommandOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Index objects published to the ledger",
		Long: `Page through the ledger gateway's transactions for each object type and
ingest every object found. Progress is checkpointed per source and type
after each object, so an interrupted run resumes where it stopped.

Types are processed so that referenced objects come before the objects and
edges pointing at them. A retry sweep of deferred objects follows every page.

Examples:
  wofi backfill
  wofi backfill --type wofi.idea.v1 --type wofi.edge.v1
  wofi backfill --from 2024-06-01 --source arweave-mainnet`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "object types to backfill, in order (default: all)")
	cmd.Flags().StringVar(&opts.From, "from", "", "skip objects created before this date (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Source, "source", ingest.DefaultBackfillSource, "checkpoint namespace")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "transactions per page (default from WOFI_INDEXER_BATCH_SIZE)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	return cmd
}

func runBackfill(opts *BackfillCommandOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	from, err := parseFrom(opts.From)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
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

	client := a.ledgerClient()
	stats, err := a.ingester().Backfill(ctx, client, ingest.BackfillOptions{
		Source:    opts.Source,
		Types:     opts.Types,
		From:      from,
		BatchSize: batchSize,
	})
	if err != nil && !isCanceled(err) {
		return WrapExitError(ExitCommandError, "backfill failed", err)
	}

	report := BackfillReport{Source: opts.Source, Gateway: client.GatewayURL(), Types: stats}
	if report.Types == nil {
		report.Types = []ingest.BackfillStats{}
	}
	if opts.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "Backfill from %s (source %s)\n", report.Gateway, report.Source)
	for _, s := range report.Types {
		fmt.Fprintf(formatter.Writer, "  %-24s pages=%d ingested=%d deferred=%d failed=%d skipped=%d\n",
			s.WofiType, s.Pages, s.Ingested, s.Deferred, s.Failed, s.Skipped)
	}
	return nil
}

// parseFrom accepts an RFC 3339 timestamp or a bare date. Empty means no
// lower bound.
func parseFrom(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --from %q: want RFC 3339 or YYYY-MM-DD", value)
	}
	return t, nil
}
