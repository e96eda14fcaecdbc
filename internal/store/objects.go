package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Ingest statuses recorded on the raw object row.
const (
	ObjectStatusOK     = "ok"
	ObjectStatusFailed = "failed"
)

// RawObject is one row of the objects table.
type RawObject struct {
	ContentID     string
	WofiType      string
	SchemaVersion string
	CanonicalJSON string
	CreatedAt     string
	AuthorPubkey  string
	SignatureJSON string
	TxID          string
	Status        string
	Error         string
	IngestedAt    string
}

// UpsertObject records an ingestion attempt. An existing row keeps its
// ledger tx id once set, may only move from failed to ok (clearing the
// error and taking the accepted object's payload and signature), and
// refreshes the error of a repeated failure.
func UpsertObject(ctx context.Context, q Querier, obj RawObject, now string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO objects (
			content_id, wofi_type, schema_version, canonical_json, created_at,
			author_pubkey, signature_json, arweave_tx_id, ingest_status, ingest_error, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			arweave_tx_id = COALESCE(objects.arweave_tx_id, excluded.arweave_tx_id),
			canonical_json = CASE
				WHEN objects.ingest_status = 'failed' AND excluded.ingest_status = 'ok' THEN excluded.canonical_json
				ELSE objects.canonical_json
			END,
			author_pubkey = CASE
				WHEN objects.ingest_status = 'failed' AND excluded.ingest_status = 'ok' THEN excluded.author_pubkey
				ELSE objects.author_pubkey
			END,
			signature_json = CASE
				WHEN objects.ingest_status = 'failed' AND excluded.ingest_status = 'ok' THEN excluded.signature_json
				ELSE objects.signature_json
			END,
			ingest_status = CASE
				WHEN objects.ingest_status = 'failed' AND excluded.ingest_status = 'ok' THEN 'ok'
				ELSE objects.ingest_status
			END,
			ingest_error = CASE
				WHEN objects.ingest_status = 'failed' AND excluded.ingest_status = 'ok' THEN NULL
				WHEN objects.ingest_status = 'failed' AND excluded.ingest_status = 'failed' THEN excluded.ingest_error
				ELSE objects.ingest_error
			END
	`,
		obj.ContentID,
		obj.WofiType,
		obj.SchemaVersion,
		obj.CanonicalJSON,
		NullString(obj.CreatedAt),
		NullString(obj.AuthorPubkey),
		NullString(obj.SignatureJSON),
		NullString(obj.TxID),
		obj.Status,
		NullString(obj.Error),
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert object %s: %w", obj.ContentID, err)
	}
	return nil
}

// MarkObjectFailed flags an existing raw row as failed with the given error.
func MarkObjectFailed(ctx context.Context, q Querier, contentID, message string) error {
	_, err := q.Exec(ctx,
		`UPDATE objects SET ingest_status = 'failed', ingest_error = ? WHERE content_id = ?`,
		message, contentID,
	)
	if err != nil {
		return fmt.Errorf("mark object failed %s: %w", contentID, err)
	}
	return nil
}

// GetObject loads one raw row. Returns ErrNotFound when absent.
func GetObject(ctx context.Context, q Querier, contentID string) (RawObject, error) {
	var (
		obj                                           RawObject
		createdAt, author, signature, txID, ingestErr sql.NullString
	)
	err := q.QueryRow(ctx, `
		SELECT content_id, wofi_type, schema_version, canonical_json, created_at,
			author_pubkey, signature_json, arweave_tx_id, ingest_status, ingest_error, ingested_at
		FROM objects
		WHERE content_id = ?
	`, contentID).Scan(
		&obj.ContentID, &obj.WofiType, &obj.SchemaVersion, &obj.CanonicalJSON, &createdAt,
		&author, &signature, &txID, &obj.Status, &ingestErr, &obj.IngestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RawObject{}, ErrNotFound
	}
	if err != nil {
		return RawObject{}, fmt.Errorf("get object %s: %w", contentID, err)
	}
	obj.CreatedAt = createdAt.String
	obj.AuthorPubkey = author.String
	obj.SignatureJSON = signature.String
	obj.TxID = txID.String
	obj.Error = ingestErr.String
	return obj, nil
}

// CanonicalJSON returns the stored canonical bytes of an object.
func CanonicalJSON(ctx context.Context, q Querier, contentID string) (string, error) {
	var data string
	err := q.QueryRow(ctx, `SELECT canonical_json FROM objects WHERE content_id = ?`, contentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get canonical json %s: %w", contentID, err)
	}
	return data, nil
}

// OKObjectType returns the wofi type of a successfully ingested object.
// The boolean is false when no ok row exists.
func OKObjectType(ctx context.Context, q Querier, contentID string) (string, bool, error) {
	var wofiType string
	err := q.QueryRow(ctx,
		`SELECT wofi_type FROM objects WHERE content_id = ? AND ingest_status = 'ok'`,
		contentID,
	).Scan(&wofiType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup object type %s: %w", contentID, err)
	}
	return wofiType, true, nil
}

// TypedTable maps a wofi type to the table holding its typed projection.
// Reserved and unknown types have none.
func TypedTable(wofiType string) (string, bool) {
	table, ok := typedTables[wofiType]
	return table, ok
}

var typedTables = map[string]string{
	"wofi.idea.v1":           "ideas",
	"wofi.construction.v1":   "constructions",
	"wofi.claim.v1":          "claims",
	"wofi.evidence.v1":       "evidence",
	"wofi.submission.v1":     "submissions",
	"wofi.implementation.v1": "implementations",
	"wofi.profile.v1":        "profiles",
	"wofi.edge.v1":           "edges",
}

// HasTypedRow reports whether the typed table for wofiType holds contentID.
func HasTypedRow(ctx context.Context, q Querier, wofiType, contentID string) (bool, error) {
	table, ok := TypedTable(wofiType)
	if !ok {
		return false, nil
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE content_id = ?`, table)
	if err := q.QueryRow(ctx, query, contentID).Scan(&count); err != nil {
		return false, fmt.Errorf("check %s row %s: %w", table, contentID, err)
	}
	return count > 0, nil
}

// CountRows returns the row count of a known table.
func CountRows(ctx context.Context, q Querier, table string) (int, error) {
	if !knownTables[table] {
		return 0, fmt.Errorf("count rows: unknown table %q", table)
	}
	var count int
	if err := q.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// Tables lists every table managed by the migrations, in dependency order.
var Tables = []string{
	"objects",
	"ideas",
	"constructions",
	"construction_inputs",
	"construction_outputs",
	"claims",
	"evidence",
	"submissions",
	"implementations",
	"profiles",
	"edges",
	"ingest_deferred",
	"backfill_checkpoints",
	"outbox",
	"embedding_jobs",
	"idea_embeddings",
	"decomposition_jobs",
}

var knownTables = func() map[string]bool {
	m := make(map[string]bool, len(Tables))
	for _, t := range Tables {
		m[t] = true
	}
	return m
}()
