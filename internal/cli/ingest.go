package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/ingest"
	"github.com/bertona88/wofi/internal/kernel"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	ContentID string
	TxID      string
	Outbox    bool
}

// IngestItem is the outcome for one object of the input.
type IngestItem struct {
	ContentID  string `json:"content_id"`
	WofiType   string `json:"wofi_type,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	MissingRef string `json:"missing_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// IngestReport summarizes an ingest run.
type IngestReport struct {
	Items    []IngestItem `json:"items"`
	OK       int          `json:"ok"`
	Deferred int          `json:"deferred"`
	Failed   int          `json:"failed"`
	Queued   int          `json:"queued"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Ingest wofi objects from a JSON file",
		Long: `Validate, verify, and index wofi objects.

The input is one JSON object or a JSON array of objects, read from a file or
from stdin when the path is "-". Objects whose references are not indexed yet
are deferred and picked up by "wofi retry".

With --outbox the objects are only queued; "wofi sync --from-outbox" ingests
them later.

Exit codes:
  0 - Every object was ingested, deferred, or queued
  1 - At least one object failed validation or expansion
  2 - Command error (unreadable input, database error, etc.)

Examples:
  wofi ingest idea.json
  cat objects.json | wofi ingest - --allow-unsigned
  wofi ingest edge.json --tx-id abc123 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ContentID, "content-id", "", "expected content id (single object only)")
	cmd.Flags().StringVar(&opts.TxID, "tx-id", "", "ledger transaction id carrying the object")
	cmd.Flags().BoolVar(&opts.Outbox, "outbox", false, "queue objects in the outbox instead of ingesting them")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	data, err := readInput(cmd, path)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("read input: %v", err), nil)
	}
	objects, err := splitObjects(data)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
	}
	if len(objects) > 1 && opts.ContentID != "" {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, "--content-id applies to a single object", nil)
	}

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()
	ing := a.ingester()

	report := IngestReport{Items: make([]IngestItem, 0, len(objects))}
	for _, raw := range objects {
		if opts.Outbox {
			id, err := ing.EnqueueOutbox(ctx, opts.ContentID, []byte(raw), opts.TxID)
			if err != nil {
				if kernel.CodeOf(err) == "" {
					return WrapExitError(ExitCommandError, "failed to queue object", err)
				}
				report.add(IngestItem{Status: string(ingest.StatusFailed), Error: err.Error()})
				continue
			}
			report.add(IngestItem{ContentID: id, Status: "queued"})
			continue
		}

		res, err := ing.Ingest(ctx, ingest.Input{CanonicalJSON: []byte(raw), ContentID: opts.ContentID, TxID: opts.TxID})
		if err != nil {
			if kernel.CodeOf(err) == "" {
				return WrapExitError(ExitCommandError, "ingest failed", err)
			}
			res = ingest.Result{ContentID: opts.ContentID, Status: ingest.StatusFailed, Error: err.Error()}
		}
		report.add(IngestItem{
			ContentID:  res.ContentID,
			WofiType:   res.WofiType,
			Status:     string(res.Status),
			Error:      res.Error,
			MissingRef: res.MissingRef,
			Reason:     res.Reason,
		})
	}

	if opts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		outputIngestText(formatter, report)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d object(s) failed", ErrCodeIngestFailed, report.Failed))
	}
	return nil
}

func (r *IngestReport) add(item IngestItem) {
	r.Items = append(r.Items, item)
	switch item.Status {
	case string(ingest.StatusOK):
		r.OK++
	case string(ingest.StatusDeferred):
		r.Deferred++
	case "queued":
		r.Queued++
	default:
		r.Failed++
	}
}

func outputIngestText(f *OutputFormatter, r IngestReport) {
	for _, item := range r.Items {
		id := item.ContentID
		if id == "" {
			id = "-"
		}
		switch item.Status {
		case string(ingest.StatusOK):
			fmt.Fprintf(f.Writer, "✓ %s %s\n", item.WofiType, id)
		case string(ingest.StatusDeferred):
			fmt.Fprintf(f.Writer, "… %s %s deferred: %s (%s)\n", item.WofiType, id, item.Reason, item.MissingRef)
		case "queued":
			fmt.Fprintf(f.Writer, "→ %s queued\n", id)
		default:
			fmt.Fprintf(f.Writer, "✗ %s %s: %s\n", item.WofiType, id, item.Error)
		}
	}
	fmt.Fprintf(f.Writer, "%d ok, %d deferred, %d failed, %d queued\n", r.OK, r.Deferred, r.Failed, r.Queued)
}

// splitObjects accepts a single JSON value or a JSON array and returns its
// elements undecoded.
func splitObjects(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("input is empty")
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("parse input array: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("input array is empty")
	}
	return items, nil
}
