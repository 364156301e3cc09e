// Package metrics exposes Prometheus instrumentation for the queue, call
// pool, and monitor runtime.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set owns the registry and the collectors the core updates.
type Set struct {
	registry *prometheus.Registry

	QueuePuts    prometheus.Counter
	QueueFlushes prometheus.Counter
	QueueDrops   prometheus.Counter
	QueuePending prometheus.Gauge

	MonitorSteps    *prometheus.CounterVec
	MonitorsRunning prometheus.Gauge

	CompanionUp prometheus.Gauge
}

// New creates a Set with all collectors registered.
func New() *Set {
	registry := prometheus.NewRegistry()
	s := &Set{
		registry: registry,
		QueuePuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearml_queue_puts_total",
			Help: "Report objects handed to the safe queue.",
		}),
		QueueFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearml_queue_flushes_total",
			Help: "Report objects flushed to the interprocess transport.",
		}),
		QueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clearml_queue_drops_total",
			Help: "Transport write failures that cleared the pending ledger.",
		}),
		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clearml_queue_pending",
			Help: "Writes dispatched but not yet flushed by this process.",
		}),
		MonitorSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clearml_monitor_steps_total",
			Help: "Completed monitor step callbacks.",
		}, []string{"monitor"}),
		MonitorsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clearml_monitors_running",
			Help: "Monitor loops currently running in this process.",
		}),
		CompanionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clearml_companion_up",
			Help: "Whether the shared companion process is alive.",
		}),
	}
	registry.MustRegister(
		s.QueuePuts, s.QueueFlushes, s.QueueDrops, s.QueuePending,
		s.MonitorSteps, s.MonitorsRunning, s.CompanionUp,
	)
	return s
}

// Handler returns the scrape endpoint for the Set's registry.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (s *Set) Registry() *prometheus.Registry {
	return s.registry
}
