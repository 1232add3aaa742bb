// Package metrics provides Prometheus instrumentation for the coursegate
// server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the
// global default) so that only coursegate metrics appear on the /metrics
// endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by the coursegate server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	CacheSize             prometheus.Gauge
	CacheLoadsTotal       prometheus.Counter
	EvaluationsTotal      *prometheus.CounterVec
	LecturesFilteredTotal prometheus.Counter
	AuthFailuresTotal     prometheus.Counter
}

// New creates and registers all coursegate metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursegate_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursegate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coursegate_course_cache_size",
			Help: "Number of courses in the in-memory cache.",
		}),

		CacheLoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursegate_course_cache_loads_total",
			Help: "Total number of full cache reloads from the database.",
		}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursegate_entitlement_evaluations_total",
			Help: "Total number of entitlement evaluations by winning benefit.",
		}, []string{"benefit"}),

		LecturesFilteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursegate_lectures_filtered_total",
			Help: "Total number of lectures dropped from strict projections.",
		}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursegate_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheSize,
		m.CacheLoadsTotal,
		m.EvaluationsTotal,
		m.LecturesFilteredTotal,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and latency per method and status.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.written {
		rec.status = code
		rec.written = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.written = true
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// RecordEvaluation increments the evaluation counter for the given benefit.
func (m *Metrics) RecordEvaluation(benefit string) {
	m.EvaluationsTotal.WithLabelValues(benefit).Inc()
}

// SetCacheSize updates the course cache size gauge.
func (m *Metrics) SetCacheSize(size float64) {
	m.CacheSize.Set(size)
}

// IncCacheLoads increments the cache load counter.
func (m *Metrics) IncCacheLoads() {
	m.CacheLoadsTotal.Inc()
}

// AddLecturesFiltered adds to the filtered-lectures counter.
func (m *Metrics) AddLecturesFiltered(count int) {
	m.LecturesFilteredTotal.Add(float64(count))
}

// IncAuthFailures increments the failed authentication counter.
func (m *Metrics) IncAuthFailures() {
	m.AuthFailuresTotal.Inc()
}
