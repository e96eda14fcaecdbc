package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/worker"
)

// EnqueueOptions holds flags shared by the enqueue subcommands.
type EnqueueOptions struct {
	*RootOptions
	Force     bool
	ProfileID string
	Opts      string
}

// NewEnqueueCommand creates the enqueue command and its subcommands.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue background jobs",
		Long: `Queue background jobs for an indexed idea. Queuing is idempotent: an
identical pending or finished job is left alone unless --force is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.Force, "force", false, "re-queue an identical job with a fresh attempt budget")

	embedding := &cobra.Command{
		Use:   "embedding <idea-id>",
		Short: "Queue an embedding of an idea's text",
		Long: `Queue an embedding of the idea's title, summary, kind, and tags with the
configured model and dimensions.

Examples:
  wofi enqueue embedding sha256:...
  wofi enqueue embedding sha256:... --force`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueueEmbedding(opts, args[0], cmd)
		},
	}

	decomposition := &cobra.Command{
		Use:   "decomposition <idea-id>",
		Short: "Queue a decomposition of an idea",
		Long: `Queue a decomposition of the idea under a cost profile. Options are a
JSON object passed through to the decomposition handler.

Examples:
  wofi enqueue decomposition sha256:... --profile-id sha256:...
  wofi enqueue decomposition sha256:... --profile-id sha256:... --opts '{"depth":2}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueueDecomposition(opts, args[0], cmd)
		},
	}
	decomposition.Flags().StringVar(&opts.ProfileID, "profile-id", "", "cost profile content id (required)")
	_ = decomposition.MarkFlagRequired("profile-id")
	decomposition.Flags().StringVar(&opts.Opts, "opts", "", "decomposition options as a JSON object")

	cmd.AddCommand(embedding, decomposition)
	return cmd
}

func runEnqueueEmbedding(opts *EnqueueOptions, ideaID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	// Queuing never calls the embedder.
	res, err := a.embeddingWorker(nil).EnqueueIdeaEmbedding(ctx, ideaID, opts.Force)
	if err != nil {
		return enqueueFailed(formatter, ideaID, err)
	}
	return outputEnqueue(formatter, worker.QueueEmbedding, res)
}

func runEnqueueDecomposition(opts *EnqueueOptions, ideaID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	var jobOpts map[string]any
	if opts.Opts != "" {
		if err := json.Unmarshal([]byte(opts.Opts), &jobOpts); err != nil {
			return fail(formatter, ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("--opts must be a JSON object: %v", err), nil)
		}
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.decompositionWorker(nil).EnqueueDecompositionJob(ctx, ideaID, opts.ProfileID, jobOpts, opts.Force)
	if err != nil {
		return enqueueFailed(formatter, ideaID, err)
	}
	return outputEnqueue(formatter, worker.QueueDecomposition, res)
}

func enqueueFailed(f *OutputFormatter, ideaID string, err error) error {
	if errors.Is(err, worker.ErrIdeaNotFound) {
		return fail(f, ExitFailure, ErrCodeNotFound, err.Error(), map[string]string{"idea_id": ideaID})
	}
	return WrapExitError(ExitCommandError, "failed to queue job", err)
}

func outputEnqueue(f *OutputFormatter, queue string, res worker.EnqueueResult) error {
	if f.Format == "json" {
		return f.Success(res)
	}
	if res.Enqueued {
		fmt.Fprintf(f.Writer, "✓ %s job queued for %s\n", queue, res.IdeaID)
	} else {
		fmt.Fprintf(f.Writer, "= %s job already present for %s\n", queue, res.IdeaID)
	}
	f.VerboseLog("input hash: %s", res.InputHash)
	return nil
}
