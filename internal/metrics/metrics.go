// Package metrics provides Prometheus instrumentation for the relay. It
// exposes counters for event throughput and agent bridge outcomes, gauges for
// connection and history state, and a latency histogram for agent calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts dispatched events, labeled by kind: "message",
	// "join", "typing", "private", plus "rejected" for invalid input.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Total number of chat events dispatched",
	}, []string{"kind"})

	// AgentRequests counts agent bridge invocations, labeled by outcome:
	// "ok", "fallback", or "dropped" (queue full).
	AgentRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_agent_requests_total",
		Help: "Total number of agent bridge invocations by outcome",
	}, []string{"outcome"})

	// AgentLatency records agent bridge round-trip latency in seconds.
	AgentLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_agent_latency_seconds",
		Help:    "Agent bridge round-trip latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
	})

	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// HistorySize tracks the current length of the history buffer.
	HistorySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_history_size",
		Help: "Current number of events in the history buffer",
	})
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		AgentRequests,
		AgentLatency,
		ConnectionsTotal,
		HistorySize,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
