package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/ledger"
	"github.com/bertona88/wofi/internal/store"
	"github.com/google/uuid"
)

// DefaultBackfillSource names the checkpoint source when none is given.
const DefaultBackfillSource = "arweave"

// DefaultBackfillTypes is the order types are backfilled in: referenced
// objects before the objects and edges that point at them.
var DefaultBackfillTypes = []string{
	string(kernel.TypeIdea),
	string(kernel.TypeProfile),
	string(kernel.TypeConstruction),
	string(kernel.TypeImplementation),
	string(kernel.TypeClaim),
	string(kernel.TypeEvidence),
	string(kernel.TypeSubmission),
	string(kernel.TypeEdge),
}

// LedgerSource is the part of the ledger client backfill reads from.
type LedgerSource interface {
	ListTransactions(ctx context.Context, wofiType, after string, first int) ([]ledger.Transaction, error)
	GetTransactionData(ctx context.Context, txID string) ([]byte, error)
}

// BackfillOptions controls a backfill run.
type BackfillOptions struct {
	// Source names the checkpoint namespace. Defaults to DefaultBackfillSource.
	Source string
	// Types limits the run to these object types, in order.
	Types []string
	// From skips objects created before it. Zero means no lower bound.
	From time.Time
	// BatchSize is the page size and retry sweep limit.
	BatchSize int
}

// BackfillStats counts outcomes for one object type.
type BackfillStats struct {
	WofiType string `json:"wofi_type"`
	Pages    int    `json:"pages"`
	Ingested int    `json:"ingested"`
	Deferred int    `json:"deferred"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
	Cursor   string `json:"cursor,omitempty"`
}

// Backfill pages through the ledger's transactions per object type,
// resuming from the saved checkpoint, ingests each object, and saves the
// cursor after every item. A retry sweep runs after each page.
func (i *Ingester) Backfill(ctx context.Context, src LedgerSource, opts BackfillOptions) ([]BackfillStats, error) {
	source := opts.Source
	if source == "" {
		source = DefaultBackfillSource
	}
	types := opts.Types
	if len(types) == 0 {
		types = DefaultBackfillTypes
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultRetryLimit
	}
	logger := i.logger.With("run_id", uuid.NewString(), "source", source)

	var all []BackfillStats
	for _, wofiType := range types {
		stats, err := i.backfillType(ctx, src, source, wofiType, opts.From, batchSize)
		all = append(all, stats)
		if err != nil {
			return all, err
		}
		logger.Info("backfill type complete",
			"wofi_type", wofiType,
			"pages", stats.Pages,
			"ingested", stats.Ingested,
			"deferred", stats.Deferred,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
		)
	}
	return all, nil
}

func (i *Ingester) backfillType(ctx context.Context, src LedgerSource, source, wofiType string, from time.Time, batchSize int) (BackfillStats, error) {
	stats := BackfillStats{WofiType: wofiType}

	cursor, _, err := store.GetCheckpoint(ctx, i.store, source, wofiType)
	if err != nil {
		return stats, err
	}
	stats.Cursor = cursor

	advance := func(next string) error {
		cursor = next
		stats.Cursor = next
		return store.SetCheckpoint(ctx, i.store, source, wofiType, next, i.timestamp())
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		txs, err := src.ListTransactions(ctx, wofiType, cursor, batchSize)
		if err != nil {
			return stats, fmt.Errorf("backfill %s: %w", wofiType, err)
		}
		if len(txs) == 0 {
			return stats, nil
		}
		stats.Pages++

		for _, tx := range txs {
			obj, ok, err := i.fetchLedgerObject(ctx, src, tx.ID)
			if err != nil {
				return stats, err
			}
			if !ok || !createdSince(obj, from) {
				stats.Skipped++
				if err := advance(tx.Cursor); err != nil {
					return stats, err
				}
				continue
			}

			res, err := i.Ingest(ctx, Input{CanonicalJSON: obj, ContentID: obj.ContentID(), TxID: tx.ID})
			if err != nil {
				return stats, err
			}
			switch res.Status {
			case StatusOK:
				stats.Ingested++
			case StatusDeferred:
				stats.Deferred++
			default:
				stats.Failed++
			}
			i.logger.Info("backfill ingest",
				"content_id", res.ContentID,
				"wofi_type", res.WofiType,
				"status", res.Status,
				"tx_id", tx.ID,
			)
			if err := advance(tx.Cursor); err != nil {
				return stats, err
			}
		}

		if _, err := i.RetryDeferred(ctx, batchSize); err != nil {
			i.logger.Warn("backfill retry sweep failed", "wofi_type", wofiType, "error", err)
		}
	}
}

// fetchLedgerObject loads and parses a transaction payload. Missing or
// unparseable payloads report ok=false.
func (i *Ingester) fetchLedgerObject(ctx context.Context, src LedgerSource, txID string) (kernel.Object, bool, error) {
	data, err := src.GetTransactionData(ctx, txID)
	if errors.Is(err, ledger.ErrNotFound) {
		i.logger.Warn("backfill payload missing", "tx_id", txID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch transaction %s: %w", txID, err)
	}
	obj, err := kernel.ParseObject(data)
	if err != nil {
		i.logger.Warn("backfill payload unparseable", "tx_id", txID, "error", err)
		return nil, false, nil
	}
	return obj, true, nil
}

// createdSince reports whether obj.created_at is at or after from. With a
// lower bound set, a missing or unparseable created_at does not qualify.
func createdSince(obj kernel.Object, from time.Time) bool {
	if from.IsZero() {
		return true
	}
	raw, ok := obj.StringField("created_at")
	if !ok {
		return false
	}
	created, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return !created.Before(from)
}
