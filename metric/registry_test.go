package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()
	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestRegisterCounter(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test counter",
	})

	err := registry.RegisterCounter("engine", "test_counter", counter)
	require.NoError(t, err)

	// Same key again is rejected
	err = registry.RegisterCounter("engine", "test_counter", counter)
	assert.Error(t, err)
}

func TestRegisterAcrossComponents(t *testing.T) {
	registry := NewRegistry()

	g1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth_a", Help: "a"})
	g2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth_b", Help: "b"})

	// Same metric name is fine under different components
	require.NoError(t, registry.RegisterGauge("dedup", "depth", g1))
	require.NoError(t, registry.RegisterGauge("sweeper", "depth", g2))
}

func TestUnregister(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unregister_test_total",
		Help: "test",
	})
	require.NoError(t, registry.RegisterCounter("engine", "unregister_test", counter))

	assert.True(t, registry.Unregister("engine", "unregister_test"))
	assert.False(t, registry.Unregister("engine", "unregister_test"))

	// Can re-register after unregistering
	assert.NoError(t, registry.RegisterCounter("engine", "unregister_test", counter))
}

func TestCoreMetricsGathered(t *testing.T) {
	registry := NewRegistry()
	registry.CoreMetrics().EventsReceived.WithLabelValues("engine", "ClusterSample").Inc()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "entitysynth_events_received_total" {
			found = true
		}
	}
	assert.True(t, found, "core events_received metric should be gathered")
}
