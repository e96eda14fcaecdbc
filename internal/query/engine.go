// Package query answers read-only questions over the typed tables: lookups
// of single objects, claim bundles, submission provenance, embedding search,
// and bounded traversals of the idea/construction lineage graph.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bertona88/wofi/internal/store"
)

// nullCreatedAt sorts objects without a created_at after every real
// timestamp.
const nullCreatedAt = "9999-12-31T23:59:59.999Z"

// Engine runs queries against a store. It holds no state between calls.
type Engine struct {
	db     store.Querier
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for debug tracing of reads.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New returns an engine reading from db.
func New(db store.Querier, opts ...Option) *Engine {
	e := &Engine{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// rowExists reports whether table has a row with content_id = id.
func (e *Engine) rowExists(ctx context.Context, table, id string) (bool, error) {
	var found string
	err := e.db.QueryRow(ctx, fmt.Sprintf(`SELECT content_id FROM %s WHERE content_id = ?`, table), id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", table, err)
	}
	return true, nil
}

func (e *Engine) ensureExists(ctx context.Context, table, label, id string) error {
	ok, err := e.rowExists(ctx, table, id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(fmt.Sprintf("%s not found: %s", label, id))
	}
	return nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullableInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	n := int(ni.Int64)
	return &n
}

// rawJSON passes a JSON text column through unchanged. Text that does not
// parse is returned as a JSON string so responses stay well formed.
func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if json.Valid([]byte(ns.String)) {
		return json.RawMessage(ns.String)
	}
	quoted, _ := json.Marshal(ns.String)
	return quoted
}
