// Package harness runs ingestion scenarios against a fresh index.
//
// A scenario declares a set of objects under aliases and a list of steps
// that push those objects through the pipeline in a chosen order: direct
// ingestion, the outbox, retry sweeps, and replays. Each step is recorded
// in a trace, and the scenario's assertions are evaluated against the
// index afterwards.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	allow_unsigned: true
//	signing_seed: "<64 hex chars>"   # optional; used by sign: true
//	objects:
//	  - alias: base
//	    object: { type: wofi.idea.v1, schema_version: "1.0", ... }
//	  - alias: cons
//	    sign: true
//	    object:
//	      type: wofi.construction.v1
//	      inputs: [{ idea_id: $base }]
//	steps:
//	  - op: ingest
//	    object: cons
//	    expect: deferred
//	  - op: retry
//	    limit: 10
//	    count: 1
//	assertions:
//	  - type: row_count
//	    table: construction_inputs
//	    count: 1
//	  - type: final_state
//	    table: construction_inputs
//	    where: { construction_id: $cons }
//	    expect: { input_idea_id: $base }
//
// A string value of the form $alias anywhere in an object, a where clause,
// or an expect clause is replaced by the content id of that alias. Objects
// may only refer to aliases declared before them.
//
// # Step Operations
//
//   - ingest: ingest an object directly; expect checks the status
//   - enqueue: put an object in the outbox
//   - sync: process one outbox batch; count checks entries processed
//   - drain: drain the outbox; count checks entries processed
//   - retry: run a retry sweep; count checks objects re-ingested
//   - replay: replay a stored object; expect checks the status
//
// # Assertion Types
//
//   - row_count: a table holds exactly count rows
//   - deferred: an object is (expect: true) or is not waiting on a reference
//   - final_state: exactly one row matches where and carries the expect values
//
// # Golden Files
//
// RunWithGolden compares a canonical snapshot of the trace and the final
// table counts against testdata/golden/<name>.golden. Content ids in the
// snapshot are written as $alias so golden files survive changes to the
// objects' non-content fields. Regenerate with:
//
//	go test ./internal/harness -update
package harness
