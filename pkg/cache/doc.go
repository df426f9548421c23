// Package cache provides generic, thread-safe cache implementations.
//
// The engine uses TTL caches for its deduplication windows: entries evict
// themselves once their window elapses, with a background cleanup
// goroutine reclaiming expired entries between accesses. A noop
// implementation satisfies the interface where caching is disabled.
//
// All implementations collect statistics (observability is not optional)
// and can optionally export them as Prometheus metrics via functional
// options.
package cache
