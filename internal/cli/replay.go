package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/ingest"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	ContentID  string
	FromLedger bool
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run ingestion for one object",
		Long: `Re-run the ingestion pipeline for one object by content id.

The locally stored raw object is used by default. With --from-ledger the
object is fetched from the ledger gateway instead, which also recovers
objects that were never stored locally. Replaying an indexed object is
idempotent.

Exit codes:
  0 - Object ingested or deferred
  1 - Object failed again, or was not found
  2 - Command error (database not found, gateway unreachable, etc.)

Examples:
  wofi replay --content-id sha256:...
  wofi replay --content-id sha256:... --from-ledger --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ContentID, "content-id", "", "content id of the object to replay (required)")
	_ = cmd.MarkFlagRequired("content-id")
	cmd.Flags().BoolVar(&opts.FromLedger, "from-ledger", false, "fetch the object from the ledger gateway")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	var src ingest.LedgerLookup
	if opts.FromLedger {
		src = a.ledgerClient()
	}
	res, err := a.ingester().Replay(ctx, opts.ContentID, src, opts.FromLedger)
	if errors.Is(err, ingest.ErrNotFound) {
		return fail(formatter, ExitFailure, ErrCodeNotFound, err.Error(), map[string]string{"content_id": opts.ContentID})
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(res); err != nil {
			return err
		}
	} else {
		switch res.Status {
		case ingest.StatusOK:
			fmt.Fprintf(formatter.Writer, "✓ %s %s replayed\n", res.WofiType, res.ContentID)
		case ingest.StatusDeferred:
			fmt.Fprintf(formatter.Writer, "… %s %s deferred: %s (%s)\n", res.WofiType, res.ContentID, res.Reason, res.MissingRef)
		default:
			fmt.Fprintf(formatter.Writer, "✗ %s %s: %s\n", res.WofiType, res.ContentID, res.Error)
		}
	}

	if res.Status == ingest.StatusFailed {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", ErrCodeIngestFailed, res.Error))
	}
	return nil
}
