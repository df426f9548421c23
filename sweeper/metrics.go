package sweeper

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/entitysynth/metric"
)

// sweeperMetrics holds Prometheus metrics for sweep passes.
type sweeperMetrics struct {
	entitiesExpired      prometheus.Counter
	tagsExpired          prometheus.Counter
	relationshipsExpired prometheus.Counter
	sweepDuration        prometheus.Histogram
}

// newSweeperMetrics creates and registers sweep metrics with the registry.
func newSweeperMetrics(registry *metric.Registry) (*sweeperMetrics, error) {
	m := &sweeperMetrics{
		entitiesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sweeper",
			Name:      "entities_expired_total",
			Help:      "Entities removed because their expiry elapsed",
		}),
		tagsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sweeper",
			Name:      "tags_expired_total",
			Help:      "Tags removed from live entities because their own TTL elapsed",
		}),
		relationshipsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "sweeper",
			Name:      "relationships_expired_total",
			Help:      "Relationships retired because their TTL elapsed",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "sweeper",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one full sweep pass",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if err := registry.RegisterCounter("sweeper", "entities_expired_total", m.entitiesExpired); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("sweeper", "tags_expired_total", m.tagsExpired); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("sweeper", "relationships_expired_total", m.relationshipsExpired); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("sweeper", "sweep_duration_seconds", m.sweepDuration); err != nil {
		return nil, err
	}
	return m, nil
}
