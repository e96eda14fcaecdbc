package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/store"
	"github.com/bertona88/wofi/internal/worker"
)

// WorkerOptions holds flags for the worker subcommands.
type WorkerOptions struct {
	*RootOptions
	Watch       bool
	MetricsAddr string

	// Embedder overrides the OpenAI embedder (for testing).
	Embedder worker.Embedder

	// Handler overrides the decomposition handler. Nil logs and completes
	// each job.
	Handler worker.DecompositionHandler
}

// WorkerResult reports the job counts of a queue after a worker run.
type WorkerResult struct {
	Queue string         `json:"queue"`
	Jobs  map[string]int `json:"jobs"`
}

// NewWorkerCommand creates the worker command and its subcommands.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}
	return newWorkerCommand(opts)
}

func newWorkerCommand(opts *WorkerOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process background job queues",
		Long: `Process a background job queue. Without --watch the worker exits once
the queue has no claimable job; with --watch it keeps polling until it is
interrupted. Jobs that reached the attempt limit are no longer claimed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.Watch, "watch", false, "keep polling for new jobs")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	embeddings := &cobra.Command{
		Use:   "embeddings",
		Short: "Compute idea embeddings",
		Long: `Claim queued embedding jobs, embed the idea text with the configured
OpenAI model, and store the vectors used by "wofi query search".

Requires WOFI_OPENAI_API_KEY or OPENAI_API_KEY.

Examples:
  wofi worker embeddings
  wofi worker embeddings --watch --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmbeddingWorker(opts, cmd)
		},
	}

	decomposition := &cobra.Command{
		Use:   "decomposition",
		Short: "Run idea decompositions",
		Long: `Claim queued decomposition jobs and hand each to the decomposition
handler.

Examples:
  wofi worker decomposition --watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecompositionWorker(opts, cmd)
		},
	}

	cmd.AddCommand(embeddings, decomposition)
	return cmd
}

func runEmbeddingWorker(opts *WorkerOptions, cmd *cobra.Command) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	embedder := opts.Embedder
	if embedder == nil {
		if a.cfg.Embedding.APIKey == "" {
			return fail(formatter, ExitCommandError, ErrCodeInvalidInput, "embedding worker requires WOFI_OPENAI_API_KEY or OPENAI_API_KEY", nil)
		}
		embedder = worker.NewOpenAIEmbedder(a.cfg.Embedding.APIKey)
	}

	a.serveMetrics(ctx, firstNonEmpty(opts.MetricsAddr, a.cfg.MetricsAddr))
	if err := a.embeddingWorker(embedder).Run(ctx, opts.Watch); err != nil && !isCanceled(err) {
		return WrapExitError(ExitCommandError, "embedding worker failed", err)
	}
	return outputWorker(ctx, formatter, a.store, worker.QueueEmbedding, "embedding_jobs")
}

func runDecompositionWorker(opts *WorkerOptions, cmd *cobra.Command) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	a.serveMetrics(ctx, firstNonEmpty(opts.MetricsAddr, a.cfg.MetricsAddr))
	if err := a.decompositionWorker(opts.Handler).Run(ctx, opts.Watch); err != nil && !isCanceled(err) {
		return WrapExitError(ExitCommandError, "decomposition worker failed", err)
	}
	return outputWorker(ctx, formatter, a.store, worker.QueueDecomposition, "decomposition_jobs")
}

func (a *app) embeddingWorker(embedder worker.Embedder) *worker.EmbeddingWorker {
	e := a.cfg.Embedding
	return worker.NewEmbeddingWorker(a.store, embedder,
		worker.EmbeddingSpec{Model: e.Model, Dimensions: e.Dimensions, MaxChars: e.MaxChars},
		worker.Config{BatchSize: e.BatchSize, Idle: e.Idle, WorkerID: e.WorkerID, MaxAttempts: e.MaxAttempts},
		worker.WithLogger(a.logger),
		worker.WithMetrics(a.metrics),
	)
}

func (a *app) decompositionWorker(handler worker.DecompositionHandler) *worker.DecompositionWorker {
	d := a.cfg.Decomposition
	return worker.NewDecompositionWorker(a.store, handler,
		worker.Config{BatchSize: d.BatchSize, Idle: d.Idle, WorkerID: d.WorkerID, MaxAttempts: d.MaxAttempts},
		worker.WithLogger(a.logger),
		worker.WithMetrics(a.metrics),
	)
}

func outputWorker(ctx context.Context, f *OutputFormatter, st *store.Store, queue, table string) error {
	// The run may have been interrupted; the summary still needs a live
	// context.
	jobs, err := jobCounts(context.WithoutCancel(ctx), st, table)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count jobs", err)
	}

	result := WorkerResult{Queue: queue, Jobs: jobs}
	if f.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "%s queue: %d queued, %d processing, %d done, %d failed\n", queue,
		jobs[worker.JobQueued], jobs[worker.JobProcessing], jobs[worker.JobDone], jobs[worker.JobFailed])
	return nil
}

// jobCounts returns the number of jobs per status. Every status is present.
func jobCounts(ctx context.Context, st *store.Store, table string) (map[string]int, error) {
	counts := map[string]int{
		worker.JobQueued:     0,
		worker.JobProcessing: 0,
		worker.JobDone:       0,
		worker.JobFailed:     0,
	}
	rows, err := st.Query(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
