package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/bertona88/wofi/internal/store"
)

// DefaultRetryLimit bounds one retry sweep when no limit is given.
const DefaultRetryLimit = 50

// RetryDeferred re-ingests up to limit deferred objects in first-seen order
// and removes the ones that now expand. Per-object failures are logged and
// skipped. It returns how many objects were re-ingested.
func (i *Ingester) RetryDeferred(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultRetryLimit
	}
	items, err := store.ListDeferred(ctx, i.store, limit)
	if err != nil {
		return 0, fmt.Errorf("retry deferred: %w", err)
	}

	processed := 0
	for _, d := range items {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		data, err := store.CanonicalJSON(ctx, i.store, d.ContentID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			i.logger.Warn("retry deferred failed", "content_id", d.ContentID, "error", err)
			i.metrics.IncRetry("error")
			continue
		}

		res, err := i.Ingest(ctx, Input{CanonicalJSON: data, ContentID: d.ContentID})
		if err != nil {
			i.logger.Warn("retry deferred failed", "content_id", d.ContentID, "error", err)
			i.metrics.IncRetry("error")
			continue
		}
		if res.Status == StatusOK {
			if err := store.DeleteDeferred(ctx, i.store, d.ContentID); err != nil {
				i.logger.Warn("retry deferred failed", "content_id", d.ContentID, "error", err)
				i.metrics.IncRetry("error")
				continue
			}
		}
		i.metrics.IncRetry(string(res.Status))
		processed++
	}
	return processed, nil
}
