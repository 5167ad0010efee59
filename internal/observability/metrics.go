// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Live stream metrics
	MessagesReceived   *prometheus.CounterVec
	MessagesDropped    prometheus.Counter
	Reconnects         prometheus.Counter
	LastMessageUnixMs  prometheus.Gauge
	SubscriptionsOpen  prometheus.Gauge
	OutboundMessages   prometheus.Counter

	// Backfill metrics
	WindowsFetched  *prometheus.CounterVec
	BarsWritten     *prometheus.CounterVec
	BackfillErrors  *prometheus.CounterVec
	FetchLatency    *prometheus.HistogramVec

	// Gap metrics
	GapsDetected prometheus.Counter
	GapsFilled   prometheus.Counter
	GapFillSkips prometheus.Counter

	// Feature engine metrics
	FeatureRowsComputed prometheus.Counter
	FeatureWriteErrors  prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all metrics registered on the
// default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsOn(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsOn registers the full metric set on reg. Tests and embedders
// bring their own registry so repeated construction cannot collide.
func NewMetricsOn(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "hyperlocal"
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_received_total",
			Help:      "Total number of live messages received by type",
		}, []string{"type"}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_dropped_total",
			Help:      "Total number of malformed or unknown-channel frames dropped",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of live-connection reconnects",
		}),
		LastMessageUnixMs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "last_message_unix_ms",
			Help:      "Unix ms timestamp of the most recently received live message",
		}),
		SubscriptionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscriptions_open",
			Help:      "Current number of active stream subscriptions",
		}),
		OutboundMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "outbound_messages_total",
			Help:      "Total number of outbound messages sent on the live connection",
		}),

		WindowsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "windows_fetched_total",
			Help:      "Total number of historical windows fetched by venue",
		}, []string{"venue"}),
		BarsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "bars_written_total",
			Help:      "Total number of bars written by venue",
		}, []string{"venue"}),
		BackfillErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "errors_total",
			Help:      "Total number of backfill errors by venue",
		}, []string{"venue"}),
		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "fetch_latency_seconds",
			Help:      "Historical window fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue"}),

		GapsDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gaps",
			Name:      "detected_total",
			Help:      "Total number of missing-bar gaps detected",
		}),
		GapsFilled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gaps",
			Name:      "filled_total",
			Help:      "Total number of gaps filled",
		}),
		GapFillSkips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gaps",
			Name:      "fill_skips_total",
			Help:      "Total number of fill triggers skipped because one was already in flight",
		}),

		FeatureRowsComputed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "rows_computed_total",
			Help:      "Total number of feature rows computed",
		}),
		FeatureWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "write_errors_total",
			Help:      "Total number of feature row write failures",
		}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
