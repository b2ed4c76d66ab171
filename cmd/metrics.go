package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type serverMetrics struct {
	commands         *prometheus.CounterVec
	commandErrors    *prometheus.CounterVec
	connectedClients prometheus.Gauge
	connections      prometheus.Counter
}

// newServerMetrics registers the server metrics on reg. memoryUsed and
// keys are sampled at scrape time and must do their own locking.
func newServerMetrics(reg prometheus.Registerer, memoryUsed, keys func() float64) *serverMetrics {
	m := &serverMetrics{
		commands: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoq",
			Name:      "commands_total",
			Help:      "Total number of commands processed.",
		}, []string{"command"}),
		commandErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoq",
			Name:      "command_errors_total",
			Help:      "Total number of commands answered with an error.",
		}, []string{"command"}),
		connectedClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "memoq",
			Name:      "connected_clients",
			Help:      "Number of client connections currently open.",
		}),
		connections: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "memoq",
			Name:      "connections_total",
			Help:      "Total number of client connections accepted.",
		}),
	}

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "memoq",
		Name:      "memory_used_bytes",
		Help:      "Bytes held by queues.",
	}, memoryUsed)
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "memoq",
		Name:      "keys",
		Help:      "Number of keys in the keyspace.",
	}, keys)

	return m
}
