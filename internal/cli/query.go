package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/query"
	"github.com/bertona88/wofi/internal/worker"
)

// QueryOptions holds flags for the query subcommands.
type QueryOptions struct {
	*RootOptions

	Depth     int
	Direction string
	NodeLimit int
	EdgeLimit int
	Cursor    string

	TargetType string

	Embedding  string
	Text       string
	Limit      int
	Model      string
	Dimensions int

	// Embedder overrides the OpenAI embedder used by search --text (for
	// testing).
	Embedder worker.Embedder
}

// NewQueryCommand creates the query command and its subcommands.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	return newQueryCommand(&QueryOptions{RootOptions: rootOpts})
}

func newQueryCommand(opts *QueryOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read the indexed graph",
		Long: `Read ideas, constructions, claims, and submissions from the index.

Results are JSON: the standard response envelope with --format json, the
bare document otherwise. Missing objects exit with code 1 and NOT_FOUND;
invalid arguments exit with code 1 and INVALID_ARGUMENT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	lookup := func(use, short string, fn func(ctx context.Context, e *query.Engine, id string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:           use,
			Short:         short,
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runQuery(opts, cmd, func(ctx context.Context, e *query.Engine) (any, error) {
					return fn(ctx, e, args[0])
				})
			},
		}
	}

	cmd.AddCommand(lookup("idea <id>", "Show an idea", func(ctx context.Context, e *query.Engine, id string) (any, error) {
		return e.Idea(ctx, id)
	}))
	cmd.AddCommand(lookup("construction <id>", "Show a construction with its inputs and output", func(ctx context.Context, e *query.Engine, id string) (any, error) {
		return e.Construction(ctx, id)
	}))
	cmd.AddCommand(lookup("submission <id>", "Show a submission", func(ctx context.Context, e *query.Engine, id string) (any, error) {
		return e.Submission(ctx, id)
	}))
	cmd.AddCommand(lookup("submissions <idea-id>", "List submissions an idea was derived from", func(ctx context.Context, e *query.Engine, id string) (any, error) {
		return e.IdeaSubmissions(ctx, id)
	}))
	cmd.AddCommand(lookup("derived <submission-id>", "List objects derived from a submission", func(ctx context.Context, e *query.Engine, id string) (any, error) {
		return e.DerivedFrom(ctx, id)
	}))

	claims := lookup("claims <target-id>", "Show the claims about an idea or implementation with their evidence", func(ctx context.Context, e *query.Engine, id string) (any, error) {
		return e.ClaimBundle(ctx, id, query.TargetType(opts.TargetType))
	})
	claims.Flags().StringVar(&opts.TargetType, "target-type", "", "idea or implementation (default: detect)")
	cmd.AddCommand(claims)

	neighborhood := lookup("neighborhood <idea-id>", "Walk the construction graph around an idea", func(ctx context.Context, e *query.Engine, id string) (any, error) {
		return e.IdeaNeighborhood(ctx, id, opts.traversal())
	})
	addTraversalFlags(neighborhood, opts, string(query.DirectionBoth))
	cmd.AddCommand(neighborhood)

	lineage := lookup("lineage <idea-id>", "Walk an idea's lineage", func(ctx context.Context, e *query.Engine, id string) (any, error) {
		return e.IdeaLineage(ctx, id, opts.traversal())
	})
	addTraversalFlags(lineage, opts, string(query.DirectionOut))
	cmd.AddCommand(lineage)

	search := &cobra.Command{
		Use:   "search",
		Short: "Find ideas nearest to an embedding",
		Long: `Rank embedded ideas by cosine distance to a query vector.

The vector is given with --embedding, either inline JSON or @path to a JSON
file, or computed from --text with the configured embedding model.

Examples:
  wofi query search --embedding @query.json --limit 5
  wofi query search --text "solar desalination" --dimensions 1024`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, cmd)
		},
	}
	search.Flags().StringVar(&opts.Embedding, "embedding", "", "query vector as a JSON array, or @file")
	search.Flags().StringVar(&opts.Text, "text", "", "embed this text as the query vector")
	search.Flags().IntVar(&opts.Limit, "limit", 0, "most results (default 10)")
	search.Flags().StringVar(&opts.Model, "model", "", "embedding model (default from WOFI_EMBEDDING_MODEL)")
	search.Flags().IntVar(&opts.Dimensions, "dimensions", 0, "embedding dimensions (default: vector length)")
	cmd.AddCommand(search)

	return cmd
}

func addTraversalFlags(cmd *cobra.Command, opts *QueryOptions, direction string) {
	cmd.Flags().IntVar(&opts.Depth, "depth", 2, "hops from the root idea")
	cmd.Flags().StringVar(&opts.Direction, "direction", direction, "out, in, or both")
	cmd.Flags().IntVar(&opts.NodeLimit, "node-limit", 0, fmt.Sprintf("nodes per page (default %d)", query.DefaultNodeLimit))
	cmd.Flags().IntVar(&opts.EdgeLimit, "edge-limit", 0, fmt.Sprintf("edges per page (default %d)", query.DefaultEdgeLimit))
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "next_cursor from a previous page")
}

func (o *QueryOptions) traversal() query.NeighborhoodOptions {
	return query.NeighborhoodOptions{
		Depth:     o.Depth,
		Direction: query.Direction(o.Direction),
		NodeLimit: o.NodeLimit,
		EdgeLimit: o.EdgeLimit,
		Cursor:    o.Cursor,
	}
}

func runQuery(opts *QueryOptions, cmd *cobra.Command, fn func(ctx context.Context, e *query.Engine) (any, error)) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := fn(ctx, a.queryEngine())
	if err != nil {
		return failQuery(formatter, err)
	}
	return formatter.Document(result)
}

func runSearch(opts *QueryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if (opts.Embedding == "") == (opts.Text == "") {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, "exactly one of --embedding or --text is required", nil)
	}

	return runQuery(opts, cmd, func(ctx context.Context, e *query.Engine) (any, error) {
		cfg, err := opts.Config()
		if err != nil {
			return nil, err
		}
		model := firstNonEmpty(opts.Model, cfg.Embedding.Model)

		var vector []float64
		if opts.Embedding != "" {
			if vector, err = parseVector(opts.Embedding); err != nil {
				return nil, err
			}
		} else {
			dimensions := opts.Dimensions
			if dimensions <= 0 {
				dimensions = cfg.Embedding.Dimensions
			}
			embedder := opts.Embedder
			if embedder == nil {
				if cfg.Embedding.APIKey == "" {
					return nil, fmt.Errorf("--text requires WOFI_OPENAI_API_KEY or OPENAI_API_KEY")
				}
				embedder = worker.NewOpenAIEmbedder(cfg.Embedding.APIKey)
			}
			if vector, err = embedder.Embed(ctx, opts.Text, model, dimensions); err != nil {
				return nil, fmt.Errorf("embed query text: %w", err)
			}
		}

		results, err := e.SearchIdeasByEmbedding(ctx, vector, query.SearchOptions{
			Limit:      opts.Limit,
			Model:      model,
			Dimensions: opts.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		return results, nil
	})
}

// parseVector reads a JSON array of numbers, inline or from @path.
func parseVector(value string) ([]float64, error) {
	data := []byte(value)
	if path, ok := strings.CutPrefix(value, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read embedding: %w", err)
		}
	}
	var vector []float64
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	return vector, nil
}
