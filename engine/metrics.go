package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/entitysynth/metric"
)

// engineMetrics holds Prometheus metrics for the synthesis pipeline.
type engineMetrics struct {
	eventsProcessed *prometheus.CounterVec // by outcome (synthesized/skipped/error)
	synthesisSkips  *prometheus.CounterVec // by reason (no_rule/identifier_unresolved/duplicate)
	ambiguousRules  prometheus.Counter
	guidCollisions  prometheus.Counter

	entitiesCreated prometheus.Counter
	entitiesUpdated prometheus.Counter

	relationshipsProposed  prometheus.Counter
	relationshipsValidated prometheus.Counter

	duplicatesSuppressed *prometheus.CounterVec // by window

	processDuration prometheus.Histogram
}

// newEngineMetrics creates and registers pipeline metrics with the registry.
func newEngineMetrics(registry *metric.Registry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // metrics disabled
	}

	m := &engineMetrics{
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "events_processed_total",
			Help:      "Events processed, by outcome",
		}, []string{"outcome"}),

		synthesisSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "synthesis_skips_total",
			Help:      "Events or matches skipped before merge, by reason",
		}, []string{"reason"}),

		ambiguousRules: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "ambiguous_rule_matches_total",
			Help:      "Matches where more than one rule of a type applied",
		}),

		guidCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "guid_collisions_total",
			Help:      "Updates rejected because a guid mapped to a different identity",
		}),

		entitiesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "entities_created_total",
			Help:      "Entities created by synthesis",
		}),

		entitiesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "entities_updated_total",
			Help:      "Entity updates that changed stored state",
		}),

		relationshipsProposed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "relationships_proposed_total",
			Help:      "Relationship edges proposed from events",
		}),

		relationshipsValidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "relationships_validated_total",
			Help:      "Proposed edges promoted to validated",
		}),

		duplicatesSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "duplicates_suppressed_total",
			Help:      "Mutations suppressed by the deduplicator, by window",
		}, []string{"window"}),

		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "process_duration_seconds",
			Help:      "End-to-end processing time of one event",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collectors := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"events_processed_total", m.eventsProcessed},
		{"synthesis_skips_total", m.synthesisSkips},
		{"ambiguous_rule_matches_total", m.ambiguousRules},
		{"guid_collisions_total", m.guidCollisions},
		{"entities_created_total", m.entitiesCreated},
		{"entities_updated_total", m.entitiesUpdated},
		{"relationships_proposed_total", m.relationshipsProposed},
		{"relationships_validated_total", m.relationshipsValidated},
		{"duplicates_suppressed_total", m.duplicatesSuppressed},
		{"process_duration_seconds", m.processDuration},
	}
	for _, c := range collectors {
		var err error
		switch v := c.collector.(type) {
		case prometheus.Counter:
			err = registry.RegisterCounter("engine", c.name, v)
		case *prometheus.CounterVec:
			err = registry.RegisterCounterVec("engine", c.name, v)
		case prometheus.Histogram:
			err = registry.RegisterHistogram("engine", c.name, v)
		}
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *engineMetrics) skip(reason string) {
	if m != nil {
		m.synthesisSkips.WithLabelValues(reason).Inc()
	}
}

func (m *engineMetrics) outcome(outcome string) {
	if m != nil {
		m.eventsProcessed.WithLabelValues(outcome).Inc()
	}
}
