package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dunamismax/pixelserve/internal/negotiate"
	"github.com/dunamismax/pixelserve/internal/params"
	"github.com/dunamismax/pixelserve/internal/pipeline"
	"github.com/dunamismax/pixelserve/internal/storage"
)

const outcomeOK = "ok"

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	transforms        *prometheus.CounterVec
	encodedBytes      *prometheus.HistogramVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelserve_http_requests_total",
			Help: "Total HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelserve_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelserve_rate_limit_rejections_total",
			Help: "Total image requests rejected by rate limiting.",
		}, []string{"route"}),
		transforms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelserve_transforms_total",
			Help: "Image requests by negotiated format and outcome.",
		}, []string{"format", "outcome"}),
		encodedBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelserve_encoded_bytes",
			Help:    "Size of encoded response bodies in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"format"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.transforms,
		m.encodedBytes,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel keeps label cardinality bounded; object keys never become labels.
func routeLabel(path string) string {
	switch path {
	case "/healthz":
		return "/healthz"
	case "/metrics":
		return "/metrics"
	default:
		return "/{key}"
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, negotiate.ErrMalformed):
		return "malformed_accept"
	case errors.Is(err, negotiate.ErrNoAcceptableFormat):
		return "not_acceptable"
	case errors.Is(err, params.ErrMissing), errors.Is(err, params.ErrInvalid):
		return "bad_params"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrTransient):
		return "storage_error"
	case errors.Is(err, pipeline.ErrDecode):
		return "decode_error"
	case errors.Is(err, pipeline.ErrEncode):
		return "encode_error"
	default:
		return "internal_error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
