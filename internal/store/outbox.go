package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Outbox statuses. A NULL status means the row has never been processed.
const (
	OutboxIngested = "ingested"
	OutboxDeferred = "deferred"
	OutboxFailed   = "failed"
)

// OutboxEntry is one locally written object waiting for ingestion.
type OutboxEntry struct {
	ContentID     string
	CanonicalJSON string
	TxID          string
	Status        string
	Attempts      int
	LastError     string
	CreatedAt     string
	UpdatedAt     string
}

// EnqueueOutbox adds an object to the outbox. Re-enqueueing the same
// content id only fills in a missing ledger tx id.
func EnqueueOutbox(ctx context.Context, q Querier, contentID, canonicalJSON, txID, now string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO outbox (content_id, canonical_json, arweave_tx_id, attempts, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			arweave_tx_id = COALESCE(outbox.arweave_tx_id, excluded.arweave_tx_id)
	`, contentID, canonicalJSON, NullString(txID), now, now)
	if err != nil {
		return fmt.Errorf("enqueue outbox %s: %w", contentID, err)
	}
	return nil
}

// PendingOutbox returns up to limit entries not yet ingested, oldest first.
func PendingOutbox(ctx context.Context, q Querier, limit int) ([]OutboxEntry, error) {
	return PendingOutboxAfter(ctx, q, "", "", limit)
}

// PendingOutboxAfter is PendingOutbox resumed strictly after the entry at
// (createdAt, contentID). Empty values start from the beginning.
func PendingOutboxAfter(ctx context.Context, q Querier, createdAt, contentID string, limit int) ([]OutboxEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT content_id, canonical_json, arweave_tx_id, status, attempts, last_error, created_at, updated_at
		FROM outbox
		WHERE (status IS NULL OR status <> 'ingested')
			AND (created_at > ? OR (created_at = ? AND content_id > ?))
		ORDER BY created_at ASC, content_id ASC
		LIMIT ?
	`, createdAt, createdAt, contentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		entry, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

// GetOutbox loads one outbox entry. Returns ErrNotFound when absent.
func GetOutbox(ctx context.Context, q Querier, contentID string) (OutboxEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT content_id, canonical_json, arweave_tx_id, status, attempts, last_error, created_at, updated_at
		FROM outbox
		WHERE content_id = ?
	`, contentID)
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("get outbox %s: %w", contentID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return OutboxEntry{}, fmt.Errorf("get outbox %s: %w", contentID, err)
		}
		return OutboxEntry{}, ErrNotFound
	}
	return scanOutbox(rows)
}

func scanOutbox(rows *sql.Rows) (OutboxEntry, error) {
	var (
		entry                   OutboxEntry
		txID, status, lastError sql.NullString
	)
	if err := rows.Scan(
		&entry.ContentID, &entry.CanonicalJSON, &txID, &status,
		&entry.Attempts, &lastError, &entry.CreatedAt, &entry.UpdatedAt,
	); err != nil {
		return OutboxEntry{}, fmt.Errorf("scan outbox: %w", err)
	}
	entry.TxID = txID.String
	entry.Status = status.String
	entry.LastError = lastError.String
	return entry, nil
}

// MarkOutbox records the outcome of one processing attempt. An empty
// lastError clears the column.
func MarkOutbox(ctx context.Context, q Querier, contentID, status, lastError, now string) error {
	_, err := q.Exec(ctx, `
		UPDATE outbox
		SET status = ?, last_error = ?, attempts = attempts + 1, updated_at = ?
		WHERE content_id = ?
	`, status, NullString(lastError), now, contentID)
	if err != nil {
		return fmt.Errorf("mark outbox %s: %w", contentID, err)
	}
	return nil
}
