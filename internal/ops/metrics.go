package ops

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the Prometheus metrics exposed by one service's /metrics
// endpoint, scoped to that service's domain: ingest lag and gap counts,
// metrics-engine warmup progress, and alert lifecycle counters all share
// this shape but each service only populates the fields it owns.
type Registry struct {
	serviceName string

	// Ingest
	MessagesReceived *prometheus.CounterVec
	GapsDetected     *prometheus.CounterVec
	ReconnectCount   *prometheus.CounterVec
	IngestLagMs      *prometheus.GaugeVec
	ConnectionState  *prometheus.GaugeVec

	// Metrics engine
	SnapshotsProcessed *prometheus.CounterVec
	MetricsDropped     *prometheus.CounterVec
	ZScoreWarmupActive *prometheus.GaugeVec
	BatchFlushDuration prometheus.Histogram

	// Alerts
	AlertsTriggered  *prometheus.CounterVec
	AlertsResolved   *prometheus.CounterVec
	AlertsEscalated  *prometheus.CounterVec
	AlertsThrottled  *prometheus.CounterVec
	ActiveAlertCount *prometheus.GaugeVec
	DispatchFailures *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry builds a fresh, per-process Prometheus registry namespaced by
// serviceName ("ingest", "metrics", "alerts"), mirroring the teacher's
// interfaces/http.NewMetricsRegistry shape but scoped to this pipeline's
// three services instead of one monolith.
func NewRegistry(serviceName string) *Registry {
	reg := prometheus.NewRegistry()
	namespace := "surveil"

	r := &Registry{
		serviceName: serviceName,
		registry:    reg,

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_messages_received_total",
			Help: "Total venue messages received, by exchange.",
		}, []string{"exchange"}),

		GapsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_gaps_detected_total",
			Help: "Total sequence/time gaps detected, by exchange and reason.",
		}, []string{"exchange", "reason"}),

		ReconnectCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_reconnects_total",
			Help: "Total reconnection attempts, by exchange.",
		}, []string{"exchange"}),

		IngestLagMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ingest_lag_ms",
			Help: "Milliseconds since the last received message, by exchange.",
		}, []string{"exchange"}),

		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ingest_connection_state",
			Help: "Current connection state (0=disconnected,1=connecting,2=connected,3=degraded,4=reconnecting), by exchange.",
		}, []string{"exchange"}),

		SnapshotsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "metrics_snapshots_processed_total",
			Help: "Total order book snapshots successfully processed, by exchange and instrument.",
		}, []string{"exchange", "instrument"}),

		MetricsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "metrics_snapshots_dropped_total",
			Help: "Total malformed snapshots dropped, by exchange and reason.",
		}, []string{"exchange", "reason"}),

		ZScoreWarmupActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "metrics_zscore_warmup_active",
			Help: "1 if a z-score tracker is still warming up, by instrument and metric.",
		}, []string{"instrument", "metric"}),

		BatchFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "metrics_batch_flush_duration_seconds",
			Help:    "Duration of periodic TSDB batch flushes.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		AlertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_triggered_total",
			Help: "Total alerts triggered, by alert_type and priority.",
		}, []string{"alert_type", "priority"}),

		AlertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_resolved_total",
			Help: "Total alerts resolved, by resolution_type.",
		}, []string{"resolution_type"}),

		AlertsEscalated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_escalated_total",
			Help: "Total alerts escalated from P2 to P1.",
		}, []string{"alert_type"}),

		AlertsThrottled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_throttled_total",
			Help: "Total alert firings suppressed by the throttle window.",
		}, []string{"alert_type"}),

		ActiveAlertCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "alerts_active",
			Help: "Current count of active alerts, by priority.",
		}, []string{"priority"}),

		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_dispatch_failures_total",
			Help: "Total notification channel dispatch failures, by channel.",
		}, []string{"channel"}),
	}

	reg.MustRegister(
		r.MessagesReceived, r.GapsDetected, r.ReconnectCount, r.IngestLagMs, r.ConnectionState,
		r.SnapshotsProcessed, r.MetricsDropped, r.ZScoreWarmupActive, r.BatchFlushDuration,
		r.AlertsTriggered, r.AlertsResolved, r.AlertsEscalated, r.AlertsThrottled, r.ActiveAlertCount, r.DispatchFailures,
	)

	return r
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// connectionStateValue maps a model.ConnectionStatus onto the gauge values
// documented on ConnectionState's Help string.
func connectionStateValue(status string) float64 {
	switch status {
	case "disconnected":
		return 0
	case "connecting":
		return 1
	case "connected":
		return 2
	case "degraded":
		return 3
	case "reconnecting":
		return 4
	default:
		return -1
	}
}

// SetConnectionState records the current connection state gauge for exchange.
func (r *Registry) SetConnectionState(exchange, status string) {
	r.ConnectionState.WithLabelValues(exchange).Set(connectionStateValue(status))
}

// SystemHealth is the JSON shape returned by /healthz, aggregating
// per-exchange connection health alongside service-level lag figures.
type SystemHealth struct {
	Service       string                   `json:"service"`
	Timestamp     time.Time                `json:"timestamp"`
	Healthy       bool                     `json:"healthy"`
	Exchanges     map[string]ExchangeHealth `json:"exchanges,omitempty"`
	ActiveAlerts  int                       `json:"active_alerts,omitempty"`
	MetricsLagMs  int64                     `json:"metrics_lag_ms,omitempty"`
}

// ExchangeHealth is one venue's health as surfaced at /healthz.
type ExchangeHealth struct {
	Status         string `json:"status"`
	LagMs          int64  `json:"lag_ms"`
	ReconnectCount int    `json:"reconnect_count"`
	GapsLastHour   int    `json:"gaps_last_hour"`
}
