// Package metrics exposes Prometheus collectors for billing operations.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors.
type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	exports     *prometheus.CounterVec
	batch       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prefacturation",
			Name:      "operations_total",
			Help:      "Lifecycle operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prefacturation",
			Name:      "vigilance_alerts_total",
			Help:      "Vigilance alerts raised by severity.",
		}, []string{"severity"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prefacturation",
			Name:      "ledger_exports_total",
			Help:      "Accounting exports by balance validity.",
		}, []string{"valid"}),
		batch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prefacturation",
			Name:      "batch_updates_total",
			Help:      "Entities updated by batch operations.",
		}, []string{"operation"}),
	}
	m.registry.MustRegister(m.transitions, m.alerts, m.exports, m.batch)
	m.registry.MustRegister(collectors.NewGoCollector())
	return m
}

// Operation records the outcome of a lifecycle operation.
func (m *Metrics) Operation(name string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.transitions.WithLabelValues(name, outcome).Inc()
}

// Alert records a raised vigilance alert.
func (m *Metrics) Alert(severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(severity).Inc()
}

// Export records an accounting export.
func (m *Metrics) Export(valid bool) {
	if m == nil {
		return
	}
	label := "false"
	if valid {
		label = "true"
	}
	m.exports.WithLabelValues(label).Inc()
}

// Batch records how many entities a batch operation updated.
func (m *Metrics) Batch(name string, updated int) {
	if m == nil {
		return
	}
	m.batch.WithLabelValues(name).Add(float64(updated))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
