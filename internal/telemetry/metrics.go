package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the installer's Prometheus collectors and the registry that
// exposes them.
type Metrics struct {
	registry *prometheus.Registry

	installations        *prometheus.CounterVec
	materializations     *prometheus.CounterVec
	materializeDurations *prometheus.HistogramVec
}

// NewMetrics creates a registry with the Go and process collectors plus the
// installer metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("registering process collector: %w", err)
	}

	return newMetrics(reg)
}

func newMetrics(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: reg,
		installations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillhub_installations_total",
			Help: "Installation lifecycle operations by resulting status.",
		}, []string{"operation", "status"}),
		materializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillhub_materializations_total",
			Help: "Workflow materializations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		materializeDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skillhub_materialization_duration_seconds",
			Help:    "Time spent materializing a single workflow.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{m.installations, m.materializations, m.materializeDurations} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering installer metrics: %w", err)
		}
	}
	return m, nil
}

// NewTestMetrics returns Metrics backed by a bare registry.
func NewTestMetrics() *Metrics {
	m, err := newMetrics(prometheus.NewRegistry())
	if err != nil {
		panic(err)
	}
	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation counts one lifecycle operation. status is the resulting
// installation status or "error".
func (m *Metrics) ObserveOperation(operation, status string) {
	if m == nil {
		return
	}
	m.installations.WithLabelValues(operation, status).Inc()
}

// ObserveMaterialization records one materializer call.
func (m *Metrics) ObserveMaterialization(kind string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.materializations.WithLabelValues(kind, outcome).Inc()
	m.materializeDurations.WithLabelValues(kind).Observe(elapsed.Seconds())
}
