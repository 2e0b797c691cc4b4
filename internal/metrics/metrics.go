// Package metrics holds the Prometheus instruments the daemon exposes when a
// metrics listener is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles the daemon's instruments behind one registry so multiple
// servers in a process never fight over default-registry registration.
type Set struct {
	registry *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	Commands            *prometheus.CounterVec
	ReplyBytes          prometheus.Counter
	WorkersBusy         prometheus.Gauge
}

// NewSet constructs and registers the daemon instruments.
func NewSet() *Set {
	registry := prometheus.NewRegistry()
	s := &Set{
		registry: registry,
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcd_connections_accepted_total",
			Help: "Connections accepted by the IPC server.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipcd_commands_total",
			Help: "Commands dispatched to the application handler, by verb.",
		}, []string{"verb"}),
		ReplyBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcd_reply_bytes_total",
			Help: "Reply payload bytes emitted through reply sinks.",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipcd_workers_busy",
			Help: "Worker threads currently serving a connection.",
		}),
	}
	registry.MustRegister(s.ConnectionsAccepted, s.Commands, s.ReplyBytes, s.WorkersBusy)
	return s
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
