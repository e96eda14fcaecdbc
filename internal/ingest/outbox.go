package ingest

import (
	"context"
	"fmt"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/store"
	"github.com/google/uuid"
)

// SyncStats summarizes outbox processing.
type SyncStats struct {
	Processed int `json:"processed"`
	Ingested  int `json:"ingested"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Batches   int `json:"batches"`
}

func (s *SyncStats) add(o SyncStats) {
	s.Processed += o.Processed
	s.Ingested += o.Ingested
	s.Deferred += o.Deferred
	s.Failed += o.Failed
	s.Retried += o.Retried
	s.Batches += o.Batches
}

// EnqueueOutbox queues an object for ingestion by SyncOutbox. The object is
// stored in canonical form; an empty contentID is computed.
func (i *Ingester) EnqueueOutbox(ctx context.Context, contentID string, canonicalJSON any, txID string) (string, error) {
	obj, err := kernel.ParseObject(canonicalJSON)
	if err != nil {
		return "", fmt.Errorf("parse canonical json: %w", err)
	}
	if contentID == "" {
		contentID = obj.ContentID()
	}
	if contentID == "" {
		if contentID, err = kernel.ContentID(obj); err != nil {
			return "", err
		}
	}
	data, err := kernel.Canonicalize(obj)
	if err != nil {
		return "", err
	}
	if err := store.EnqueueOutbox(ctx, i.store, contentID, string(data), txID, i.timestamp()); err != nil {
		return "", err
	}
	return contentID, nil
}

// SyncOutbox ingests one batch of outbox entries that are not yet ingested,
// oldest first, records each outcome on the entry, and runs a retry sweep
// when the batch was not empty.
func (i *Ingester) SyncOutbox(ctx context.Context, batchSize int) (SyncStats, error) {
	if batchSize <= 0 {
		batchSize = DefaultRetryLimit
	}
	entries, err := store.PendingOutbox(ctx, i.store, batchSize)
	if err != nil {
		return SyncStats{}, fmt.Errorf("sync outbox: %w", err)
	}
	return i.syncEntries(ctx, entries, batchSize)
}

func (i *Ingester) syncEntries(ctx context.Context, entries []store.OutboxEntry, batchSize int) (SyncStats, error) {
	var stats SyncStats
	for _, entry := range entries {
		res, err := i.Ingest(ctx, Input{
			CanonicalJSON: entry.CanonicalJSON,
			ContentID:     entry.ContentID,
			TxID:          entry.TxID,
		})
		if err != nil {
			// Unparseable payloads are recorded; store failures stop the batch.
			if kernel.CodeOf(err) == "" {
				return stats, err
			}
			res = Result{ContentID: entry.ContentID, Status: StatusFailed, Error: describeError(err)}
		}

		status, lastError := store.OutboxIngested, ""
		switch res.Status {
		case StatusOK:
			stats.Ingested++
		case StatusDeferred:
			status = store.OutboxDeferred
			stats.Deferred++
		default:
			status, lastError = store.OutboxFailed, res.Error
			if lastError == "" {
				lastError = "unknown error"
			}
			stats.Failed++
		}
		if err := store.MarkOutbox(ctx, i.store, entry.ContentID, status, lastError, i.timestamp()); err != nil {
			return stats, err
		}
		stats.Processed++
	}

	if stats.Processed > 0 {
		stats.Batches = 1
		retried, err := i.RetryDeferred(ctx, batchSize)
		if err != nil {
			i.logger.Warn("outbox retry sweep failed", "error", err)
		}
		stats.Retried = retried
	}
	return stats, nil
}

// DrainOutbox processes the outbox in passes. Each pass visits every
// pending entry once in batches; passes repeat while they ingest something.
// Entries that keep failing or deferring stay in the outbox for a later run.
func (i *Ingester) DrainOutbox(ctx context.Context, batchSize int) (SyncStats, error) {
	if batchSize <= 0 {
		batchSize = DefaultRetryLimit
	}
	logger := i.logger.With("run_id", uuid.NewString())
	var total SyncStats
	for pass := 1; ; pass++ {
		var afterCreated, afterID string
		ingested := 0
		for {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			entries, err := store.PendingOutboxAfter(ctx, i.store, afterCreated, afterID, batchSize)
			if err != nil {
				return total, fmt.Errorf("drain outbox: %w", err)
			}
			if len(entries) == 0 {
				break
			}
			batch, err := i.syncEntries(ctx, entries, batchSize)
			total.add(batch)
			if err != nil {
				return total, err
			}
			ingested += batch.Ingested
			last := entries[len(entries)-1]
			afterCreated, afterID = last.CreatedAt, last.ContentID

			logger.Info("outbox batch",
				"pass", pass,
				"processed", batch.Processed,
				"ingested", batch.Ingested,
				"deferred", batch.Deferred,
				"failed", batch.Failed,
				"retried", batch.Retried,
			)
		}
		if ingested == 0 {
			return total, nil
		}
	}
}
