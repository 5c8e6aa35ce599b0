// Package metrics exposes Prometheus instrumentation for the engine: run
// pickup latency, step execution duration, in-flight/completed run
// counters, worker lifecycle gauges, and HTTP request metrics.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ErlanBelekov/durably/internal/health"
)

var (
	// Worker metrics

	RunPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "durably",
		Name:      "run_pickup_latency_seconds",
		Help:      "Time from run creation to the worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	StepExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "durably",
		Name:      "step_execution_duration_seconds",
		Help:      "Duration of one step.run invocation.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"job_name", "status"})

	RunsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "durably",
		Name:      "worker_runs_in_flight",
		Help:      "Number of runs currently being executed by the worker (0 or 1).",
	})

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durably",
		Name:      "runs_completed_total",
		Help:      "Total runs finished, by job name and outcome.",
	}, []string{"job_name", "outcome"})

	// Stale-recovery metrics

	StaleRecoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "durably",
		Name:      "stale_recovered_total",
		Help:      "Total running runs reset to pending by the recover-stale pre-pass.",
	})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "durably",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "durably",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker has shut down.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "durably",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durably",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

// Register registers every collector with the default Prometheus registry.
// Calling it more than once panics (prometheus.MustRegister); callers
// should call it exactly once at process startup.
func Register() {
	prometheus.MustRegister(
		RunPickupLatency,
		StepExecutionDuration,
		RunsInFlight,
		RunsCompletedTotal,
		StaleRecoveredTotal,
		WorkerStartTime,
		WorkerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer returns an http.Server exposing /metrics, /healthz, and /readyz
// on addr, separate from the main API server so scraping and probes never
// contend with request traffic.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealthResult(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealthResult(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
