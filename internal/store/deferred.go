package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Deferred is an object whose expansion waits on a missing reference.
type Deferred struct {
	ContentID   string
	WofiType    string
	MissingRef  string
	Reason      string
	FirstSeenAt string
}

// UpsertDeferred records or refreshes a deferral. The latest missing
// reference and reason replace earlier ones; first_seen_at is kept.
func UpsertDeferred(ctx context.Context, q Querier, d Deferred, now string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO ingest_deferred (content_id, wofi_type, missing_ref, reason, first_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			wofi_type = excluded.wofi_type,
			missing_ref = excluded.missing_ref,
			reason = excluded.reason
	`, d.ContentID, d.WofiType, d.MissingRef, d.Reason, now)
	if err != nil {
		return fmt.Errorf("upsert deferred %s: %w", d.ContentID, err)
	}
	return nil
}

// ListDeferred returns up to limit deferrals, oldest first.
func ListDeferred(ctx context.Context, q Querier, limit int) ([]Deferred, error) {
	rows, err := q.Query(ctx, `
		SELECT content_id, wofi_type, missing_ref, reason, first_seen_at
		FROM ingest_deferred
		ORDER BY first_seen_at ASC, content_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deferred: %w", err)
	}
	defer rows.Close()

	var out []Deferred
	for rows.Next() {
		var d Deferred
		if err := rows.Scan(&d.ContentID, &d.WofiType, &d.MissingRef, &d.Reason, &d.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("scan deferred: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deferred: %w", err)
	}
	return out, nil
}

// GetDeferred loads one deferral. Returns ErrNotFound when absent.
func GetDeferred(ctx context.Context, q Querier, contentID string) (Deferred, error) {
	var d Deferred
	err := q.QueryRow(ctx, `
		SELECT content_id, wofi_type, missing_ref, reason, first_seen_at
		FROM ingest_deferred
		WHERE content_id = ?
	`, contentID).Scan(&d.ContentID, &d.WofiType, &d.MissingRef, &d.Reason, &d.FirstSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Deferred{}, ErrNotFound
	}
	if err != nil {
		return Deferred{}, fmt.Errorf("get deferred %s: %w", contentID, err)
	}
	return d, nil
}

// DeleteDeferred removes a resolved deferral.
func DeleteDeferred(ctx context.Context, q Querier, contentID string) error {
	if _, err := q.Exec(ctx, `DELETE FROM ingest_deferred WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("delete deferred %s: %w", contentID, err)
	}
	return nil
}
