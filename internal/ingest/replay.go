package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/bertona88/wofi/internal/ledger"
	"github.com/bertona88/wofi/internal/store"
)

// ErrNotFound is returned by Replay when the object exists neither locally
// nor in the ledger.
var ErrNotFound = errors.New("object not found")

// LedgerLookup is the part of the ledger client replay reads from.
type LedgerLookup interface {
	LookupTxIDByContentID(ctx context.Context, contentID string) (string, error)
	GetTransactionData(ctx context.Context, txID string) ([]byte, error)
}

// Replay re-runs ingestion for one object. The local raw row is used unless
// preferLedger is set or the row is missing; the ledger is consulted next
// when src is not nil.
func (i *Ingester) Replay(ctx context.Context, contentID string, src LedgerLookup, preferLedger bool) (Result, error) {
	if !preferLedger {
		raw, err := store.GetObject(ctx, i.store, contentID)
		switch {
		case err == nil:
			i.logger.Info("replay from local store", "content_id", contentID)
			return i.Ingest(ctx, Input{CanonicalJSON: raw.CanonicalJSON, ContentID: contentID, TxID: raw.TxID})
		case !errors.Is(err, store.ErrNotFound):
			return Result{}, err
		}
	}

	if src == nil {
		return Result{}, fmt.Errorf("replay %s: %w", contentID, ErrNotFound)
	}
	txID, err := src.LookupTxIDByContentID(ctx, contentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Result{}, fmt.Errorf("replay %s: content id not in ledger: %w", contentID, ErrNotFound)
	}
	if err != nil {
		return Result{}, fmt.Errorf("replay %s: %w", contentID, err)
	}
	data, err := src.GetTransactionData(ctx, txID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Result{}, fmt.Errorf("replay %s: ledger payload missing: %w", contentID, ErrNotFound)
	}
	if err != nil {
		return Result{}, fmt.Errorf("replay %s: %w", contentID, err)
	}

	i.logger.Info("replay from ledger", "content_id", contentID, "tx_id", txID)
	return i.Ingest(ctx, Input{CanonicalJSON: data, ContentID: contentID, TxID: txID})
}
