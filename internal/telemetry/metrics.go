package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chord",
			Name:      "messages_total",
			Help:      "Envelopes sent and received, by direction and kind.",
		},
		[]string{"direction", "kind"},
	)

	DroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chord",
			Name:      "dropped_datagrams_total",
			Help:      "Inbound datagrams discarded before dispatch.",
		},
		[]string{"reason"},
	)

	CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chord",
			Name:      "call_duration_seconds",
			Help:      "Latency of outbound calls until response or deadline.",
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"kind", "outcome"},
	)

	PendingCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chord",
			Name:      "pending_calls",
			Help:      "Outbound calls awaiting a response.",
		},
	)

	StabilizeRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chord",
			Name:      "stabilize_runs_total",
			Help:      "Completed stabilize rounds.",
		},
	)

	PointerChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chord",
			Name:      "pointer_changes_total",
			Help:      "Routing pointer replacements, by pointer.",
		},
		[]string{"pointer"},
	)

	LookupHops = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chord",
			Name:      "lookup_hops",
			Help:      "Hops taken by findPredecessor walks.",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "chord",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(MessagesTotal, DroppedTotal, CallDuration, PendingCalls, StabilizeRuns, PointerChanges, LookupHops, uptime)
}

// MetricsHandler exposes the registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
