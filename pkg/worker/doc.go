// Package worker provides a key-sharded worker pool for concurrent event
// processing.
//
// Work submitted with the same key always lands on the same worker, so
// mutations for one entity are applied in submission order while distinct
// entities fan out across workers. Submission is non-blocking: when a
// shard's queue is full the work item is dropped and counted, never
// blocking the ingestion path.
package worker
