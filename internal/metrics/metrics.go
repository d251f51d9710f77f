// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graphsync_active_sessions",
		Help: "Number of currently registered sessions.",
	})

	LoadedResources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graphsync_loaded_resources",
		Help: "Number of resource documents held in memory.",
	})

	InstructionsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphsync_instructions_applied_total",
		Help: "Instructions committed to authoritative documents.",
	})

	InstructionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphsync_instructions_rejected_total",
		Help: "Instruction batches rejected without partial application.",
	})

	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphsync_broadcasts_sent_total",
		Help: "Broadcast messages delivered to session sinks.",
	})

	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphsync_broadcasts_dropped_total",
		Help: "Broadcast messages dropped on full or closed sinks.",
	})

	CatchupMessages = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphsync_catchup_messages",
		Help:    "Replay-log messages returned per registration.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	DocumentFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphsync_document_flushes_total",
		Help: "Dirty documents flushed to the store.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
