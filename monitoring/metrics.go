package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_transitions_total",
			Help: "Orchestrator state transitions",
		},
		[]string{"from", "to"},
	)

	outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_outcomes_total",
			Help: "Gateway outcomes by transaction type and how they were handled",
		},
		[]string{"type", "outcome", "handling"},
	)

	failures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_failures_total",
			Help: "Failed states entered, by failure kind",
		},
		[]string{"kind"},
	)

	widgetLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflow_widget_loads_total",
			Help: "Payment SDK script loads by result",
		},
		[]string{"result"},
	)

	backendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payflow_backend_call_duration_seconds",
			Help:    "Duration of compose and reconcile calls to the backend",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"call", "status"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payflow_active_sessions",
			Help: "Payment sessions currently held in memory",
		},
	)

	queuedTransitions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payflow_queued_transitions",
			Help: "State transitions waiting to be persisted",
		},
	)
)

func TrackTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

// TrackOutcome records a gateway outcome. handling is "accepted" or "dropped".
func TrackOutcome(txType, outcome, handling string) {
	outcomes.WithLabelValues(txType, outcome, handling).Inc()
}

func TrackFailure(kind string) {
	failures.WithLabelValues(kind).Inc()
}

func TrackWidgetLoad(result string) {
	widgetLoads.WithLabelValues(result).Inc()
}

func TrackBackendCall(call string, err error, d time.Duration) {
	st := "ok"
	if err != nil {
		st = "error"
	}
	backendCallDuration.WithLabelValues(call, st).Observe(d.Seconds())
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func SetQueuedTransitions(n int) {
	queuedTransitions.Set(float64(n))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
