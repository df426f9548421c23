// Package entitysynth converts streams of heterogeneous monitoring events
// into a consistent graph of typed, de-duplicated entities and typed,
// time-bounded relationships between them.
//
// # Architecture
//
// Events flow through a fixed pipeline:
//
//	Event → Rule Matcher → Identifier Builder → GUID Generator
//	      → Deduplicator → Tag Extractor → Entity State Merger
//	      → Relationship Builder → (store + published records)
//
// with an Expiration Sweeper running continuously alongside ingestion.
//
// Core packages:
//
//   - event: the immutable attribute-bag event model
//   - synthesis: declarative rules, condition evaluation, identifier and
//     GUID construction, tag extraction, versioned rule snapshots
//   - entity: entity records, event-time tag merging, derived health
//   - dedup: multi-window suppression of replayed mutations
//   - relationship: edge rules, source/target resolution strategies and
//     the Proposed → Validated → Expired state machine
//   - sweeper: compare-and-expire removal of entities, tags and edges
//   - engine: the processing component that wires the pipeline together
//   - ingest: durable JetStream consumer feeding the engine
//
// Supporting packages:
//
//   - store: entity/relationship store contracts with in-memory and NATS
//     JetStream KV implementations
//   - metric: Prometheus metrics registry
//   - errors: classified error handling (transient/invalid/fatal)
//   - config: YAML service configuration for the synthd daemon
//   - pkg/cache, pkg/retry, pkg/worker, pkg/timestamp: shared utilities
//
// The engine holds no cross-event mutable state beyond the active rule
// snapshot (swapped atomically between processing epochs) and the
// deduplication window caches. Events for the same entity identity are
// routed to a single worker by GUID hash, so merges for one entity are
// serialized; the per-tag event-time comparison in the merger keeps
// imperfect sharding safe at the cost of extra merge work.
package entitysynth
