// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryhub_requests_total",
			Help: "Total number of query requests by terminal status.",
		},
		[]string{"status"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryhub_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	datasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryhub_dataset_loads_total",
			Help: "Total number of dataset loads by result.",
		},
		[]string{"result"},
	)
	historyEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryhub_history_evictions_total",
			Help: "Total number of history entries evicted from the in-memory ledger.",
		},
	)
	validatorWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryhub_validator_warnings_total",
			Help: "Total number of soft identifier warnings attached to accepted statements.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryhub_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryhub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		stageDurationSeconds,
		datasetLoadsTotal,
		historyEvictionsTotal,
		validatorWarningsTotal,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	)
}

func ObserveRequest(status string) {
	requestsTotal.WithLabelValues(status).Inc()
}

func ObserveStage(stage string, d time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func ObserveDatasetLoad(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	datasetLoadsTotal.WithLabelValues(result).Inc()
}

func ObserveHistoryEvictions(n int) {
	if n > 0 {
		historyEvictionsTotal.Add(float64(n))
	}
}

func ObserveValidatorWarnings(n int) {
	if n > 0 {
		validatorWarningsTotal.Add(float64(n))
	}
}

// Middleware records request counts and latency labelled by chi route
// pattern, so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := strconv.Itoa(recorder.status)
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
