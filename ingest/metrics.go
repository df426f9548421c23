package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/entitysynth/metric"
)

// consumerMetrics holds Prometheus metrics for event ingestion.
type consumerMetrics struct {
	eventsReceived prometheus.Counter
	eventsAccepted prometheus.Counter
	eventsRejected *prometheus.CounterVec // by reason
}

// newConsumerMetrics creates and registers ingest metrics.
func newConsumerMetrics(registry *metric.Registry) (*consumerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &consumerMetrics{
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "events_received_total",
			Help:      "Events delivered by JetStream",
		}),
		eventsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "events_accepted_total",
			Help:      "Events parsed and submitted to the engine",
		}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "events_rejected_total",
			Help:      "Events not submitted, by reason",
		}, []string{"reason"}),
	}

	if err := registry.RegisterCounter("ingest", "events_received_total", m.eventsReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ingest", "events_accepted_total", m.eventsAccepted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("ingest", "events_rejected_total", m.eventsRejected); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *consumerMetrics) received() {
	if m != nil {
		m.eventsReceived.Inc()
	}
}

func (m *consumerMetrics) accepted() {
	if m != nil {
		m.eventsAccepted.Inc()
	}
}

func (m *consumerMetrics) rejected(reason string) {
	if m != nil {
		m.eventsRejected.WithLabelValues(reason).Inc()
	}
}
