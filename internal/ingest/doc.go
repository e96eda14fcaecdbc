// Package ingest turns kernel objects into rows of the relational store.
//
// Every object goes through the same pipeline:
//
//	parse -> content id -> raw upsert -> validate -> expand -> defer/retry
//
// The raw row in objects is always written, so every attempt is auditable.
// Validation failures are recorded as failed and returned as a Result, never
// as an error. Expansion into the typed tables runs in one transaction; when
// a referenced object is not there yet the object is deferred with the
// single reference it is waiting on, and a later retry sweep picks it up.
//
// Three drivers feed the pipeline: the local outbox (SyncOutbox), the
// external ledger (Backfill), and single-object recovery (Replay).
package ingest
