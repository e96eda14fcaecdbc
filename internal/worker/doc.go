// Package worker runs the background job queues kept in the relational
// store: idea embeddings and idea decomposition.
//
// Workers poll, claim one job at a time, process it, and record the outcome
// on the job row. Claiming is a single statement, so any number of worker
// processes can share a queue without a separate lock service. A job that
// fails is retried by a later claim until it reaches the attempt limit.
package worker
