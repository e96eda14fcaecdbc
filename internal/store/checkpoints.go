package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetCheckpoint returns the saved backfill cursor for (source, wofiType).
// The boolean is false when nothing has been saved yet.
func GetCheckpoint(ctx context.Context, q Querier, source, wofiType string) (string, bool, error) {
	var cursor sql.NullString
	err := q.QueryRow(ctx,
		`SELECT cursor FROM backfill_checkpoints WHERE source = ? AND wofi_type = ?`,
		source, wofiType,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get checkpoint %s/%s: %w", source, wofiType, err)
	}
	return cursor.String, cursor.Valid, nil
}

// SetCheckpoint saves the backfill cursor for (source, wofiType).
func SetCheckpoint(ctx context.Context, q Querier, source, wofiType, cursor, now string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO backfill_checkpoints (source, wofi_type, cursor, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source, wofi_type) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, source, wofiType, cursor, now)
	if err != nil {
		return fmt.Errorf("set checkpoint %s/%s: %w", source, wofiType, err)
	}
	return nil
}
