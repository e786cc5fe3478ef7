package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	invocationTotal    *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	handlerTimeouts    *prometheus.CounterVec
	inFlight           prometheus.Gauge

	registeredTools *prometheus.GaugeVec
	catalogRejected *prometheus.CounterVec

	gatewayClients  prometheus.Gauge
	gatewayRequests *prometheus.CounterVec

	historyWriteDuration prometheus.Histogram
	historyPruned        prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			invocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_invocations_total",
					Help: "Total tool invocations by tool and outcome kind.",
				},
				[]string{"tool", "kind"},
			),
			invocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_invocation_duration_seconds",
					Help:    "Tool invocation duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			handlerTimeouts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_handler_timeouts_total",
					Help: "Total handler executions abandoned after their timeout.",
				},
				[]string{"tool"},
			),
			inFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tool_invocations_in_flight",
					Help: "Handler executions currently running.",
				},
			),
			registeredTools: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "registered_tools",
					Help: "Registered tools by state (enabled, disabled).",
				},
				[]string{"state"},
			),
			catalogRejected: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "catalog_rejected_total",
					Help: "Catalog entries rejected at load by source.",
				},
				[]string{"source"},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_clients",
					Help: "Connected gateway websocket clients.",
				},
			),
			gatewayRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_requests_total",
					Help: "Gateway RPC requests by method and status.",
				},
				[]string{"method", "status"},
			),
			historyWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_write_duration_seconds",
					Help:    "Invocation history write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			historyPruned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "history_records_pruned_total",
					Help: "Invocation history records removed by retention.",
				},
			),
		}

		prometheus.MustRegister(
			m.invocationTotal,
			m.invocationDuration,
			m.handlerTimeouts,
			m.inFlight,
			m.registeredTools,
			m.catalogRejected,
			m.gatewayClients,
			m.gatewayRequests,
			m.historyWriteDuration,
			m.historyPruned,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordInvocation records one finished invocation. kind is "ok" for
// successes and the error kind otherwise.
func RecordInvocation(tool, kind string, duration time.Duration) {
	m := getMetrics()
	m.invocationTotal.WithLabelValues(tool, kind).Inc()
	m.invocationDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordHandlerTimeout(tool string) {
	getMetrics().handlerTimeouts.WithLabelValues(tool).Inc()
}

func HandlerStarted() {
	getMetrics().inFlight.Inc()
}

func HandlerFinished() {
	getMetrics().inFlight.Dec()
}

func SetRegisteredTools(total, enabled int) {
	m := getMetrics()
	m.registeredTools.WithLabelValues("enabled").Set(float64(enabled))
	m.registeredTools.WithLabelValues("disabled").Set(float64(total - enabled))
}

func RecordCatalogRejected(source string) {
	getMetrics().catalogRejected.WithLabelValues(source).Inc()
}

func SetGatewayClients(count int) {
	getMetrics().gatewayClients.Set(float64(count))
}

func RecordGatewayRequest(method string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().gatewayRequests.WithLabelValues(method, status).Inc()
}

func RecordHistoryWrite(duration time.Duration) {
	getMetrics().historyWriteDuration.Observe(duration.Seconds())
}

func RecordHistoryPruned(count int64) {
	getMetrics().historyPruned.Add(float64(count))
}
