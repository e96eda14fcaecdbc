package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/store"
)

// RetryOptions holds flags for the retry command.
type RetryOptions struct {
	*RootOptions
	Limit int
}

// RetryResult reports a retry sweep.
type RetryResult struct {
	Retried   int `json:"retried"`
	Remaining int `json:"remaining"`
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RetryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry deferred objects",
		Long: `Re-ingest deferred objects in the order they were first deferred.
Objects whose references are now indexed are expanded and leave the
deferred queue; the rest stay with their attempt count increased.

Examples:
  wofi retry
  wofi retry --limit 500 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "most objects to retry (default from WOFI_INDEXER_BATCH_SIZE)")

	return cmd
}

func runRetry(opts *RetryOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	limit := opts.Limit
	if limit <= 0 {
		limit = a.cfg.BatchSize
	}

	retried, err := a.ingester().RetryDeferred(ctx, limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "retry failed", err)
	}
	remaining, err := store.CountRows(ctx, a.store, "ingest_deferred")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count deferred objects", err)
	}

	result := RetryResult{Retried: retried, Remaining: remaining}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "Retried %d object(s), %d still deferred\n", result.Retried, result.Remaining)
	return nil
}
