// Package metrics exposes Prometheus instrumentation for HTTP traffic and
// paste lifecycle events.
//
// HTTP collectors are labelled by method, chi route pattern (falling back to
// the raw path when nothing matched) and status code, which keeps label
// cardinality bounded by the route table.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Read outcomes recorded by ObserveRead.
const (
	OutcomeServed    = "served"
	OutcomeNotFound  = "not_found"
	OutcomeExpired   = "expired"
	OutcomeViewLimit = "view_limit"
	OutcomeError     = "error"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	pastesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pastes_created_total",
			Help: "Pastes successfully stored.",
		},
	)

	pasteReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paste_reads_total",
			Help: "Paste reads by outcome.",
		},
		[]string{"outcome"},
	)

	expiredSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paste_keys_swept_total",
			Help: "Expired keys removed by the janitor.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, pastesCreated, pasteReads, expiredSwept)
}

// Middleware instruments requests routed by chi.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpReqs.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpLat.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCreate counts a stored paste.
func ObserveCreate() { pastesCreated.Inc() }

// ObserveRead counts a read attempt by outcome.
func ObserveRead(outcome string) { pasteReads.WithLabelValues(outcome).Inc() }

// ObserveSweep counts keys removed by a janitor pass.
func ObserveSweep(n int) { expiredSwept.Add(float64(n)) }
