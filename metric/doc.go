// Package metric provides Prometheus metrics registration and serving for
// the synthesis engine. A private Registry wraps prometheus.Registry so
// components can register their own metrics without colliding, and core
// pipeline metrics (events received/processed, records published, errors)
// are always present.
package metric
