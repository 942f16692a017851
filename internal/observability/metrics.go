package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	retryTotal     *prometheus.CounterVec
	fallbackTotal  *prometheus.CounterVec
	interruptTotal prometheus.Counter

	deliveryTotal  *prometheus.CounterVec
	deliveryErrors prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prompt_runs_total",
					Help: "Completed prompt runs by model and outcome.",
				},
				[]string{"model", "outcome"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "prompt_run_duration_seconds",
					Help:    "Prompt run duration in seconds by model.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"model"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_runs",
					Help: "Current in-flight prompt runs.",
				},
			),
			retryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "prompt_retries_total",
					Help: "Prompt attempt retries by failure category.",
				},
				[]string{"category"},
			),
			fallbackTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_fallbacks_total",
					Help: "Model fallback switches by source model.",
				},
				[]string{"from_model"},
			),
			interruptTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "run_interrupts_total",
					Help: "External interrupts delivered to active runs.",
				},
			),
			deliveryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "delivery_operations_total",
					Help: "Channel delivery operations by kind (send/edit).",
				},
				[]string{"kind"},
			),
			deliveryErrors: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "delivery_errors_total",
					Help: "Channel delivery failures.",
				},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.activeRuns,
			m.retryTotal,
			m.fallbackTotal,
			m.interruptTotal,
			m.deliveryTotal,
			m.deliveryErrors,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered forces metric registration. Safe to call from multiple
// packages; registration happens once.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	getMetrics()
	return promhttp.Handler()
}

// RecordRun records a completed prompt run.
func RecordRun(model string, duration time.Duration, outcome string) {
	m := getMetrics()
	m.runTotal.WithLabelValues(model, outcome).Inc()
	m.runDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// SetActiveRuns updates the in-flight run gauge.
func SetActiveRuns(n int) {
	getMetrics().activeRuns.Set(float64(n))
}

// RecordRetry records a retried attempt by failure category.
func RecordRetry(category string) {
	getMetrics().retryTotal.WithLabelValues(category).Inc()
}

// RecordFallback records a model fallback switch.
func RecordFallback(fromModel string) {
	getMetrics().fallbackTotal.WithLabelValues(fromModel).Inc()
}

// RecordInterrupt records an external interrupt.
func RecordInterrupt() {
	getMetrics().interruptTotal.Inc()
}

// RecordDelivery records a channel send or edit.
func RecordDelivery(kind string) {
	getMetrics().deliveryTotal.WithLabelValues(kind).Inc()
}

// RecordDeliveryError records a failed channel delivery.
func RecordDeliveryError() {
	getMetrics().deliveryErrors.Inc()
}
