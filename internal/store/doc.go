// Package store is the relational system of record for wofi.
//
// It holds the raw object log (every ingestion attempt, including failures),
// the typed tables the ingestion pipeline expands objects into, and the
// bookkeeping tables used by the drivers and workers:
//   - objects: raw envelope keyed by content id, status ok or failed
//   - ideas, constructions, claims, evidence, submissions,
//     implementations, profiles, edges: typed projections
//   - ingest_deferred: objects blocked on a missing reference
//   - outbox, backfill_checkpoints: driver state
//   - embedding_jobs, idea_embeddings, decomposition_jobs: worker queues
//
// # Dialects
//
// A DSN starting with postgres:// or postgresql:// opens PostgreSQL through
// pgx; anything else is a SQLite path. SQL is written once with ? placeholders
// and rebound to $n for PostgreSQL.
//
// SQLite is configured with:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// and a single connection. Inside WithTx every statement must go through the
// Tx, and rows must be closed before the next statement is issued.
//
// # Ordering
//
// Reads that feed drivers order by a timestamp column and break ties on
// content_id so results are stable across runs.
package store
