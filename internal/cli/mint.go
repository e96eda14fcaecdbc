package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/mint"
)

// MintOptions holds flags for the mint subcommands.
type MintOptions struct {
	*RootOptions
	KeyFile string

	Idea mint.IdeaDraft

	Rel       string
	From      string
	To        string
	CreatedAt string
}

// DraftFile is the YAML document read by "mint drafts". Each entry sets
// exactly one of its fields.
type DraftFile struct {
	Drafts []Draft `yaml:"drafts"`
}

// Draft is one object to mint from a draft file.
type Draft struct {
	Idea         *mint.IdeaDraft         `yaml:"idea"`
	Submission   *mint.SubmissionDraft   `yaml:"submission"`
	Construction *mint.ConstructionDraft `yaml:"construction"`
}

// NewMintCommand creates the mint command and its subcommands.
func NewMintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MintOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Store and index new objects",
		Long: `Write new objects through the configured object store backend and index
them with the transaction id the store assigned. With --key unsigned objects
are signed first.

Backends: dev (local badger directory), s3 (S3-compatible bucket), ledger
(read-only from the CLI).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.KeyFile, "key", "", "file holding the hex ed25519 seed used to sign unsigned objects")

	object := &cobra.Command{
		Use:   "object <file|->",
		Short: "Mint objects from a JSON file",
		Long: `Mint one JSON object or a JSON array of objects.

Examples:
  wofi mint object idea.json --key signing.key`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMintObjects(opts, args[0], cmd)
		},
	}

	idea := &cobra.Command{
		Use:   "idea",
		Short: "Mint an idea",
		Long: `Mint an idea from flags.

Examples:
  wofi mint idea --title "Solar still" --kind concept --tag water --tag solar`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMint(opts, cmd, func(ctx context.Context, m *mint.Minter) ([]mint.Result, error) {
				res, err := m.MintIdea(ctx, opts.Idea)
				return single(res, err)
			})
		},
	}
	idea.Flags().StringVar(&opts.Idea.Title, "title", "", "idea title (required)")
	idea.Flags().StringVar(&opts.Idea.Kind, "kind", "", "idea kind (required)")
	idea.Flags().StringVar(&opts.Idea.Summary, "summary", "", "idea summary")
	idea.Flags().StringArrayVar(&opts.Idea.Tags, "tag", nil, "tag (repeatable)")
	idea.Flags().StringVar(&opts.Idea.CreatedAt, "created-at", "", "created_at timestamp (default now)")

	edge := &cobra.Command{
		Use:   "edge",
		Short: "Link two indexed objects",
		Long: `Mint an edge between two indexed objects. Endpoint kinds are taken from
the stored objects and the relation must be legal for them.

Examples:
  wofi mint edge --rel OUTPUT_OF --from sha256:... --to sha256:...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMint(opts, cmd, func(ctx context.Context, m *mint.Minter) ([]mint.Result, error) {
				res, err := m.LinkEdge(ctx, kernel.Relation(opts.Rel), opts.From, opts.To, opts.CreatedAt)
				return single(res, err)
			})
		},
	}
	edge.Flags().StringVar(&opts.Rel, "rel", "", "relation, e.g. INPUT_OF, OUTPUT_OF, ABOUT (required)")
	edge.Flags().StringVar(&opts.From, "from", "", "source content id (required)")
	edge.Flags().StringVar(&opts.To, "to", "", "target content id (required)")
	edge.Flags().StringVar(&opts.CreatedAt, "created-at", "", "created_at timestamp (default now)")
	_ = edge.MarkFlagRequired("rel")
	_ = edge.MarkFlagRequired("from")
	_ = edge.MarkFlagRequired("to")

	drafts := &cobra.Command{
		Use:   "drafts <file|->",
		Short: "Mint ideas, submissions, and constructions from a YAML file",
		Long: `Mint every draft in a YAML file, in order. Minting stops at the first
draft that cannot be minted.

Example file:
  drafts:
    - submission:
        text: "Could we desalinate with sunlight alone?"
    - idea:
        title: Solar still
        kind: concept
    - construction:
        operator: refine
        inputs:
          - idea_id: sha256:...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMintDrafts(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(object, idea, edge, drafts)
	return cmd
}

func runMintObjects(opts *MintOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	data, err := readInput(cmd, path)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("read input: %v", err), nil)
	}
	raws, err := splitObjects(data)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
	}
	objects := make([]kernel.Object, 0, len(raws))
	for _, raw := range raws {
		obj, err := kernel.ParseObject([]byte(raw))
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
		}
		objects = append(objects, obj)
	}

	return runMint(opts, cmd, func(ctx context.Context, m *mint.Minter) ([]mint.Result, error) {
		results := make([]mint.Result, 0, len(objects))
		for _, obj := range objects {
			res, err := m.Mint(ctx, obj)
			if err != nil {
				return results, err
			}
			results = append(results, res)
		}
		return results, nil
	})
}

func runMintDrafts(opts *MintOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	data, err := readInput(cmd, path)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("read input: %v", err), nil)
	}
	var file DraftFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("parse drafts: %v", err), nil)
	}
	if len(file.Drafts) == 0 {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, "drafts file has no drafts", nil)
	}
	for i, d := range file.Drafts {
		if n := d.count(); n != 1 {
			return fail(formatter, ExitCommandError, ErrCodeInvalidInput,
				fmt.Sprintf("drafts[%d] must set exactly one of idea, submission, construction (got %d)", i, n), nil)
		}
	}

	return runMint(opts, cmd, func(ctx context.Context, m *mint.Minter) ([]mint.Result, error) {
		results := make([]mint.Result, 0, len(file.Drafts))
		for i, d := range file.Drafts {
			var (
				res mint.Result
				err error
			)
			switch {
			case d.Idea != nil:
				res, err = m.MintIdea(ctx, *d.Idea)
			case d.Submission != nil:
				res, err = m.MintSubmission(ctx, *d.Submission)
			default:
				res, err = m.MintConstruction(ctx, *d.Construction)
			}
			if err != nil {
				return results, fmt.Errorf("drafts[%d]: %w", i, err)
			}
			results = append(results, res)
		}
		return results, nil
	})
}

func single(res mint.Result, err error) ([]mint.Result, error) {
	if err != nil {
		return nil, err
	}
	return []mint.Result{res}, nil
}

func (d Draft) count() int {
	n := 0
	if d.Idea != nil {
		n++
	}
	if d.Submission != nil {
		n++
	}
	if d.Construction != nil {
		n++
	}
	return n
}

func runMint(opts *MintOptions, cmd *cobra.Command, fn func(ctx context.Context, m *mint.Minter) ([]mint.Result, error)) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	var mintOpts []mint.Option
	if opts.KeyFile != "" {
		seed, err := loadSeed(opts.KeyFile)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
		}
		mintOpts = append(mintOpts, mint.WithSigningKey(seed))
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	objects, err := a.objectStore(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open object store", err)
	}
	minter := mint.New(objects, a.ingester(), append(mintOpts, mint.WithLogger(a.logger))...)

	results, err := fn(ctx, minter)
	if results == nil {
		results = []mint.Result{}
	}
	if opts.Format == "json" {
		if err == nil {
			return formatter.Success(results)
		}
	} else {
		for _, r := range results {
			marker := "✓"
			if r.AlreadyExisted {
				marker = "="
			}
			fmt.Fprintf(formatter.Writer, "%s %s %s tx=%s status=%s\n", marker, r.Ingest.WofiType, r.ContentID, r.TxID, r.Ingest.Status)
		}
	}
	if err != nil {
		return mintFailed(formatter, err, results)
	}
	return nil
}

func mintFailed(f *OutputFormatter, err error, minted []mint.Result) error {
	code := ErrCodeMintFailed
	switch {
	case errors.Is(err, mint.ErrUnknownObject):
		code = ErrCodeNotFound
	case kernel.CodeOf(err) != "":
		code = string(kernel.CodeOf(err))
	}
	return fail(f, ExitFailure, code, err.Error(), map[string]any{"minted": len(minted)})
}
